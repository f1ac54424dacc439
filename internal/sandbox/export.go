package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// maxExportDepth bounds nesting of exported tables; deeper values and
// cycles export as nil.
const maxExportDepth = 32

// exportValue converts a Lua value returned by a script to a Go value.
// Array-like tables become []interface{}, other tables map[string]interface{}.
func exportValue(val lua.LValue) interface{} {
	return export(val, make(map[*lua.LTable]bool), 0)
}

func export(val lua.LValue, active map[*lua.LTable]bool, depth int) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case lua.LString:
		return string(v)
	case lua.LNumber:
		if f := float64(v); f == float64(int64(f)) {
			return int64(f)
		}
		return float64(v)
	case lua.LBool:
		return bool(v)
	case *lua.LTable:
		if active[v] || depth >= maxExportDepth {
			return nil
		}
		active[v] = true
		defer delete(active, v)

		if n := v.Len(); n > 0 && v.MaxN() == n {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, export(v.RawGetInt(i), active, depth+1))
			}
			return arr
		}
		obj := make(map[string]interface{})
		v.ForEach(func(key, value lua.LValue) {
			obj[key.String()] = export(value, active, depth+1)
		})
		return obj
	default:
		if val == lua.LNil {
			return nil
		}
		return val.String()
	}
}
