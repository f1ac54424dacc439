package sandbox

import (
	"math"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Estimated costs of engine values in bytes. Scalars live inline in the
// slot that holds them.
const (
	stringHeader = 16
	tableHeader  = 56
	slotSize     = 16
	functionSize = 64
	userdataSize = 48
	threadSize   = 256
	channelSize  = 96

	// Lua caps a function at 200 locals; anything past this is scratch.
	maxFrameLocals = 256
	maxStackLevels = 1024

	// what one instruction can allocate without joining existing strings
	stepGrowth = tableHeader + 4*slotSize
)

// meter feeds the accountant. The engine has no allocator hook, so growth
// is observed by walking what the running script can reach and issuing a
// single (charged, footprint) request per sample.
type meter struct {
	L          *lua.LState
	accountant *Accountant
	logger     *zap.Logger

	interval int64 // most steps between samples

	charged int64
	peak    int64
	strings int64 // string bytes seen by the last sample

	env     *lua.LTable
	ambient map[lua.LValue]struct{}

	// set when a guarded builtin was refused during the current run
	exhausted bool
}

func newMeter(L *lua.LState, accountant *Accountant, interval int64, logger *zap.Logger) *meter {
	if interval <= 0 {
		interval = DefaultMemorySampleInterval
	}
	return &meter{L: L, accountant: accountant, interval: interval, logger: logger}
}

// begin snapshots the tables and functions already reachable from the
// session namespace. They belong to the engine and registered modules and
// are never charged.
func (m *meter) begin() {
	m.env = nil
	m.exhausted = false
	m.strings = 0
	m.peak = m.charged
	m.ambient = ambientValues(m.L)
}

func (m *meter) bind(env *lua.LTable) {
	m.env = env
}

// end frees everything charged by the run.
func (m *meter) end() {
	_ = m.accountant.Realloc(m.charged, 0)
	m.charged = 0
	m.env = nil
	m.ambient = nil
}

// sample charges the current footprint and returns the number of steps
// that may pass before the next one.
func (m *meter) sample() (int64, error) {
	limit := m.charged + m.accountant.Available()
	size, strs := m.footprint(limit)
	if err := m.commit(size); err != nil {
		return 0, err
	}
	m.strings = strs
	return m.nextSample(), nil
}

// settle charges what is left once the chunk has returned, ret included.
func (m *meter) settle(ret lua.LValue) error {
	limit := m.charged + m.accountant.Available()
	size, _ := m.footprint(limit, ret)
	return m.commit(size)
}

// nextSample bounds growth between samples. An instruction can at most
// join strings that are already reachable, so string bytes may double per
// step on top of stepGrowth. The gap is the most steps that worst case
// still fits in the headroom.
func (m *meter) nextSample() int64 {
	headroom := m.accountant.Available()
	span := max(m.strings, stringHeader)
	grown := span + stepGrowth
	gap := int64(1)
	for gap < m.interval && span <= headroom/2 {
		span *= 2
		next := grown + span + stepGrowth
		if next > headroom {
			break
		}
		grown = next
		gap++
	}
	return gap
}

// request charges n bytes ahead of an allocation made on the script's behalf.
func (m *meter) request(n int64) error {
	if n > math.MaxInt64-m.charged {
		n = math.MaxInt64 - m.charged
	}
	return m.commit(m.charged + n)
}

func (m *meter) commit(size int64) error {
	if err := m.accountant.Realloc(m.charged, size); err != nil {
		m.logger.Warn("Out of memory",
			zap.Int64("charged", m.charged),
			zap.Int64("requested", size),
			zap.Int64("available", m.accountant.Available()),
		)
		return err
	}
	m.charged = size
	if size > m.peak {
		m.peak = size
	}
	return nil
}

// footprint estimates the bytes reachable from the run's environment, from
// extra and from the locals and closures of every active frame. It also
// returns the string bytes among them. The walk stops once the total
// passes limit.
func (m *meter) footprint(limit int64, extra ...lua.LValue) (int64, int64) {
	w := newWalker(m.ambient, limit)
	if m.env != nil {
		w.push(m.env)
	}
	for _, v := range extra {
		w.push(v)
	}
	w.visit(m.L)
	w.pushFrames(m.L)
	total := w.run()
	return total, w.strings
}

// guard makes allocation-heavy builtins ask for their result size before
// allocating it.
func (m *meter) guard() {
	if lib, ok := m.L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		m.wrap(lib, "rep", repSize)
	}
	if lib, ok := m.L.GetGlobal(lua.TabLibName).(*lua.LTable); ok {
		m.wrap(lib, "concat", concatSize)
	}
}

func (m *meter) wrap(lib *lua.LTable, name string, size func(L *lua.LState) int64) {
	orig, ok := lib.RawGetString(name).(*lua.LFunction)
	if !ok || !orig.IsG {
		return
	}
	inner := orig.GFunction
	lib.RawSetString(name, m.L.NewFunction(func(L *lua.LState) int {
		if n := size(L); n > 0 {
			if err := m.request(n); err != nil {
				m.exhausted = true
				L.RaiseError("%s", err.Error())
			}
		}
		return inner(L)
	}))
}

func repSize(L *lua.LState) int64 {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || len(s) == 0 {
		return 0
	}
	if int64(n) > (math.MaxInt64-stringHeader)/int64(len(s)) {
		return math.MaxInt64
	}
	return stringHeader + int64(len(s))*int64(n)
}

func concatSize(L *lua.LState) int64 {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")
	i := L.OptInt(3, 1)
	j := L.OptInt(4, tbl.Len())

	size := int64(stringHeader)
	for k := i; k <= j; k++ {
		switch v := tbl.RawGetInt(k).(type) {
		case lua.LString:
			size += int64(len(v))
		case lua.LNumber:
			size += int64(len(v.String()))
		default:
			// the builtin raises on this element
			return size
		}
		if k < j {
			size += int64(len(sep))
		}
	}
	return size
}

// walker sums value costs without recursion so deep structures cannot
// exhaust the host stack.
type walker struct {
	ambient map[lua.LValue]struct{}
	seen    map[lua.LValue]struct{}
	stack   []lua.LValue
	total   int64
	strings int64
	limit   int64
}

func newWalker(ambient map[lua.LValue]struct{}, limit int64) *walker {
	return &walker{
		ambient: ambient,
		seen:    make(map[lua.LValue]struct{}),
		limit:   limit,
	}
}

func (w *walker) push(v lua.LValue) {
	if v == nil || v == lua.LNil {
		return
	}
	w.stack = append(w.stack, v)
}

// pushParked queues a value found in an ambient table unless it was
// already there when the run started.
func (w *walker) pushParked(v lua.LValue) {
	switch v.(type) {
	case *lua.LTable, *lua.LFunction, *lua.LUserData, *lua.LState:
		w.stack = append(w.stack, v)
	case lua.LString:
		if _, ok := w.ambient[v]; !ok {
			w.stack = append(w.stack, v)
		}
	}
}

// pushFrames queues the locals and function of every active frame of L.
// Tail calls make GetStack fall back to the bottom frame once the level
// runs past them, so the walk stops at that frame.
func (w *walker) pushFrames(L *lua.LState) {
	var bottom lua.LValue = lua.LNil
	if dbg, ok := L.GetStack(-1); ok {
		bottom, _ = L.GetInfo("f", dbg, lua.LNil)
	}
	for level := 0; level < maxStackLevels; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		for n := 1; n <= maxFrameLocals; n++ {
			name, value := L.GetLocal(dbg, n)
			if name == "" {
				break
			}
			w.push(value)
		}
		fn, err := L.GetInfo("f", dbg, lua.LNil)
		if err != nil {
			continue
		}
		w.push(fn)
		if fn == bottom {
			break
		}
	}
}

func (w *walker) visit(v lua.LValue) bool {
	if _, ok := w.seen[v]; ok {
		return false
	}
	w.seen[v] = struct{}{}
	return true
}

func (w *walker) run() int64 {
	for len(w.stack) > 0 {
		if w.limit > 0 && w.total > w.limit {
			break
		}
		v := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.total += w.cost(v)
	}
	return w.total
}

func (w *walker) cost(v lua.LValue) int64 {
	switch v := v.(type) {
	case lua.LString:
		w.strings += stringHeader + int64(len(v))
		return stringHeader + int64(len(v))
	case *lua.LTable:
		if !w.visit(v) {
			return 0
		}
		if _, ok := w.ambient[v]; ok {
			// free itself, but whatever a script parked inside is not
			v.ForEach(func(key, value lua.LValue) {
				w.pushParked(key)
				w.pushParked(value)
			})
			return 0
		}
		size := int64(tableHeader)
		v.ForEach(func(key, value lua.LValue) {
			size += slotSize
			w.push(key)
			w.push(value)
		})
		w.push(v.Metatable)
		return size
	case *lua.LFunction:
		if _, ok := w.ambient[v]; ok {
			return 0
		}
		if !w.visit(v) {
			return 0
		}
		for _, uv := range v.Upvalues {
			if uv != nil {
				w.push(uv.Value())
			}
		}
		return functionSize
	case *lua.LUserData:
		if !w.visit(v) {
			return 0
		}
		w.push(v.Metatable)
		return userdataSize
	case *lua.LState:
		if !w.visit(v) {
			return 0
		}
		w.pushFrames(v)
		return threadSize
	case lua.LChannel:
		return channelSize
	default:
		return 0
	}
}

// ambientValues collects every table, function and string reachable from
// the session globals and the registry.
func ambientValues(L *lua.LState) map[lua.LValue]struct{} {
	ambient := make(map[lua.LValue]struct{})
	stack := []*lua.LTable{L.G.Global, L.G.Registry}
	add := func(v lua.LValue) {
		switch v := v.(type) {
		case *lua.LTable:
			if _, seen := ambient[v]; !seen {
				stack = append(stack, v)
			}
		case *lua.LFunction, lua.LString:
			ambient[v] = struct{}{}
		}
	}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t == nil {
			continue
		}
		if _, seen := ambient[t]; seen {
			continue
		}
		ambient[t] = struct{}{}
		t.ForEach(func(key, value lua.LValue) {
			add(key)
			add(value)
		})
		add(t.Metatable)
	}
	return ambient
}
