package sandbox

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// buildEnvironment produces the global table for one run. Without a path
// the script gets an empty table. With a path the environment script is
// validated, evaluated with no arguments, and must return a table; any
// failure aborts the run rather than falling back to an empty table.
func (s *Session) buildEnvironment(path string) (*lua.LTable, error) {
	var env *lua.LTable
	if path == "" {
		env = s.L.NewTable()
	} else {
		if err := s.validate(path); err != nil {
			return nil, err
		}
		fn, err := s.L.LoadFile(path)
		if err != nil {
			return nil, s.engineError("environment", path, err)
		}
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
			return nil, s.engineError("environment", path, err)
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)

		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return nil, &Error{
				Kind:   KindEngine,
				Op:     "environment",
				Path:   path,
				Detail: fmt.Sprintf("%s, got %s", ErrInvalidEnvironment, ret.Type()),
				Err:    ErrInvalidEnvironment,
			}
		}
		env = tbl
	}

	if s.config.ExposeBuiltins && s.L.GetMetatable(env) == lua.LNil {
		mt := s.L.NewTable()
		mt.RawSetString("__index", s.L.G.Global)
		s.L.SetMetatable(env, mt)
	}
	return env, nil
}

// bind makes env the exclusive global namespace of fn and of every closure
// it creates.
func (s *Session) bind(fn *lua.LFunction, env *lua.LTable) {
	s.L.SetFEnv(fn, env)
	if s.meter != nil {
		s.meter.bind(env)
	}
}
