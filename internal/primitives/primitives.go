package primitives

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
	"github.com/GriffinCanCode/censorscope/internal/shared/id"
)

// ModuleName is the global the host primitives are published under.
const ModuleName = "censorscope"

// DefaultMaxSleep bounds a single sleep_ms call.
const DefaultMaxSleep = time.Second

// Options configures the host primitives.
type Options struct {
	Logger   *zap.Logger
	MaxSleep time.Duration
}

// Register publishes the host primitives into session.
func Register(session *sandbox.Session, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = DefaultMaxSleep
	}
	h := &host{
		logger:   opts.Logger.With(zap.String("sandbox", session.Name())),
		maxSleep: opts.MaxSleep,
	}

	session.RegisterModule(ModuleName, map[string]lua.LGFunction{
		"debug":    h.makeLogFunc(zapcore.DebugLevel),
		"info":     h.makeLogFunc(zapcore.InfoLevel),
		"warn":     h.makeLogFunc(zapcore.WarnLevel),
		"error":    h.makeLogFunc(zapcore.ErrorLevel),
		"time":     h.now,
		"sleep_ms": h.sleep,
		"id":       h.newID,
	})
	return nil
}

// Registrar adapts Register for sandbox.PoolConfig.
func Registrar(opts Options) sandbox.Registrar {
	return func(session *sandbox.Session) error {
		return Register(session, opts)
	}
}

type host struct {
	logger   *zap.Logger
	maxSleep time.Duration
}

// makeLogFunc creates a log primitive: (message [, fields]).
func (h *host) makeLogFunc(level zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		if ce := h.logger.Check(level, msg); ce != nil {
			var fields []zap.Field
			if tbl, ok := L.Get(2).(*lua.LTable); ok {
				fields = tableFields(tbl)
			}
			ce.Write(fields...)
		}
		return 0
	}
}

// tableFields turns the flat entries of tbl into log fields. Nested
// tables are logged by their type name only.
func tableFields(tbl *lua.LTable) []zap.Field {
	var fields []zap.Field
	tbl.ForEach(func(key, value lua.LValue) {
		name := key.String()
		switch v := value.(type) {
		case lua.LString:
			fields = append(fields, zap.String(name, string(v)))
		case lua.LNumber:
			fields = append(fields, zap.Float64(name, float64(v)))
		case lua.LBool:
			fields = append(fields, zap.Bool(name, bool(v)))
		default:
			fields = append(fields, zap.String(name, value.Type().String()))
		}
	})
	return fields
}

func (h *host) now(L *lua.LState) int {
	now := time.Now()
	L.Push(lua.LNumber(float64(now.UnixNano()) / float64(time.Second)))
	return 1
}

// sleep pauses for min(ms, maxSleep). Negative values are an error. An
// ended run context cuts the pause short and the run aborts on its next
// instruction.
func (h *host) sleep(L *lua.LState) int {
	ms := L.CheckInt64(1)
	if ms < 0 {
		L.ArgError(1, "duration must be >= 0")
		return 0
	}
	d := h.maxSleep
	if ms < d.Milliseconds() {
		d = time.Duration(ms) * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-sandbox.RunContext(L).Done():
	}
	return 0
}

func (h *host) newID(L *lua.LState) int {
	prefix := L.OptString(1, "")
	if prefix == "" {
		L.Push(lua.LString(id.Default().GenerateString()))
	} else {
		L.Push(lua.LString(id.Default().GenerateWithPrefix(prefix)))
	}
	return 1
}
