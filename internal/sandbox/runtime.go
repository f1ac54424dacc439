package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/censorscope/internal/shared/id"
)

// Globals published into every session.
const (
	NameGlobal    = "SANDBOX_NAME"
	OptionsGlobal = "CENSORSCOPE_OPTIONS"
)

// Option customizes a session.
type Option func(*Session)

// WithLogger routes session diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records session activity in metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

type registration func(L *lua.LState)

// Session wraps one Lua engine with resource governance
type Session struct {
	id      id.SessionID
	name    string
	config  Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	L          *lua.LState
	accountant *Accountant
	meter      *meter
	budget     *budget

	registrations []registration
	closed        bool
}

// New creates a sandbox session named name. Limits of zero leave the
// corresponding supervisor uninstalled.
func New(name string, config Config, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:     id.NewSessionID(),
		name:   name,
		config: config.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("sandbox", name), zap.String("session_id", s.id.String()))

	if err := s.open(); err != nil {
		return nil, err
	}

	s.metrics.SessionOpened()
	s.logger.Debug("Sandbox created",
		zap.Int64("max_instructions", s.config.MaxInstructions),
		zap.Int64("max_memory", s.config.MaxMemory),
		zap.String("budget_scope", string(s.config.BudgetScope)),
	)
	return s, nil
}

// open creates the engine and installs every supervisor. Partially built
// state is closed on failure.
func (s *Session) open() (err error) {
	L := lua.NewState(lua.Options{IncludeGoStackTrace: true})
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC: unprotected error while creating sandbox",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &Error{Kind: KindInternal, Op: "init", Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			L.Close()
		}
	}()

	b := newBudget(s.config.MaxInstructions)
	b.attach(L)
	var (
		accountant *Accountant
		m          *meter
	)
	if s.config.MaxMemory > 0 {
		accountant = NewAccountant(s.config.MaxMemory)
		m = newMeter(L, accountant, s.config.MemorySampleInterval, s.logger)
		m.guard()
		b.sample = m.sample
	}

	L.SetGlobal(NameGlobal, lua.LString(s.name))
	L.SetGlobal(OptionsGlobal, s.optionsTable(L))

	if err := prependPackagePath(L, filepath.Join(s.config.RootPath, "?.lua")); err != nil {
		return &Error{Kind: KindConfiguration, Op: "init", Err: err}
	}

	for _, register := range s.registrations {
		register(L)
	}

	s.L, s.budget, s.accountant, s.meter = L, b, accountant, m
	return nil
}

// optionsTable mirrors the configuration for scripts and primitives.
func (s *Session) optionsTable(L *lua.LState) *lua.LTable {
	opts := L.NewTable()
	opts.RawSetString("sandbox_dir", lua.LString(s.config.SandboxDir))
	opts.RawSetString("luasrc_dir", lua.LString(s.config.RootPath))
	opts.RawSetString("max_instructions", lua.LNumber(s.config.MaxInstructions))
	opts.RawSetString("max_memory", lua.LNumber(s.config.MaxMemory))
	opts.RawSetString("budget_scope", lua.LString(s.config.BudgetScope))
	opts.RawSetString("expose_builtins", lua.LBool(s.config.ExposeBuiltins))
	return opts
}

// prependPackagePath puts entry ahead of the existing package.path.
func prependPackagePath(L *lua.LState, entry string) error {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return errors.New("package library is not loaded")
	}
	current := lua.LVAsString(L.GetField(pkg, "path"))
	L.SetField(pkg, "path", lua.LString(entry+";"+string(current)))
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID {
	return s.id
}

// Name returns the caller-supplied session name.
func (s *Session) Name() string {
	return s.name
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// State exposes the engine to the registration step. It must not be used
// while a run is in progress.
func (s *Session) State() *lua.LState {
	return s.L
}

// Register publishes a host primitive as a session global. Registrations
// survive Reset.
func (s *Session) Register(name string, fn lua.LGFunction) {
	s.record(func(L *lua.LState) {
		L.SetGlobal(name, L.NewFunction(fn))
	})
}

// RegisterModule publishes a table of host primitives as a session global.
func (s *Session) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.record(func(L *lua.LState) {
		L.SetGlobal(name, L.SetFuncs(L.NewTable(), funcs))
	})
}

func (s *Session) record(register registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, register)
	if !s.closed {
		register(s.L)
	}
}

// MemoryAvailable returns the bytes left in the pool, or -1 when memory is
// unlimited.
func (s *Session) MemoryAvailable() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountant == nil {
		return -1
	}
	return s.accountant.Available()
}

// Run executes script inside the session. environment may be empty.
func (s *Session) Run(ctx context.Context, script, environment string) (result *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	result = &Result{RunID: id.NewRunID().String()}
	logger := s.logger.With(zap.String("run_id", result.RunID), zap.String("script", script))

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	s.budget.begin(ctx, s.config.BudgetScope == BudgetRun)
	s.L.SetContext(s.budget)
	if s.meter != nil {
		s.meter.begin()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("PANIC: unprotected error in call to Lua API",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &Error{Kind: KindInternal, Op: "run", Path: script, Err: fmt.Errorf("panic: %v", r)}
			s.L.SetTop(0)
		}

		result.Steps = s.budget.runSteps
		if s.meter != nil {
			result.PeakMemory = s.meter.peak
			s.meter.end()
		}
		s.L.RemoveContext()
		s.budget.end()

		result.Duration = time.Since(start)
		result.Error = err
		s.observe(result, err)
	}()

	value, err := s.execute(script, environment)
	if err != nil {
		logger.Error("Sandbox run failed", zap.Error(err))
		return result, err
	}
	result.Value = exportValue(value)
	result.raw = value
	return result, nil
}

func (s *Session) execute(script, environment string) (lua.LValue, error) {
	if err := s.validate(script); err != nil {
		return nil, err
	}
	fn, err := s.L.LoadFile(script)
	if err != nil {
		return nil, s.engineError("load", script, err)
	}

	env, err := s.buildEnvironment(environment)
	if err != nil {
		return nil, err
	}
	s.bind(fn, env)

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, s.engineError("run", script, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	if s.meter != nil {
		if err := s.meter.settle(ret); err != nil {
			return nil, &Error{Kind: KindResource, Op: "run", Path: script, Err: err}
		}
	}
	return ret, nil
}

func (s *Session) validate(path string) error {
	if err := ValidateScript(path); err != nil {
		reason := "io"
		if errors.Is(err, ErrBytecode) {
			reason = "bytecode"
		}
		s.metrics.RecordRejection(reason)
		return err
	}
	return nil
}

// engineError classifies a failure reported by the engine. Aborts raised
// by the budget or the meter are resource errors, Go panics inside
// registered primitives are internal errors, and the rest keep the
// engine's own diagnostic.
func (s *Session) engineError(op, path string, err error) error {
	detail := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		detail = apiErr.Object.String()
	}

	switch {
	case s.budget.cause != nil:
		return &Error{Kind: KindResource, Op: op, Path: path, Err: s.budget.cause}
	case s.meter != nil && s.meter.exhausted:
		return &Error{Kind: KindResource, Op: op, Path: path, Err: ErrOutOfMemory}
	case apiErr != nil && apiErr.Type == lua.ApiErrorPanic:
		s.logger.Error("PANIC: host primitive failed",
			zap.String("path", path),
			zap.String("stack", apiErr.StackTrace),
		)
		return &Error{Kind: KindInternal, Op: op, Path: path, Detail: detail, Err: err}
	default:
		return &Error{Kind: KindEngine, Op: op, Path: path, Detail: firstLine(detail), Err: err}
	}
}

func (s *Session) observe(result *Result, err error) {
	if s.metrics == nil {
		return
	}
	outcome, kind := "success", "none"
	if err != nil {
		outcome, kind = "failure", KindOf(err).String()
	}
	s.metrics.RecordRun(outcome, kind, result.Duration, result.Steps, result.PeakMemory)
}

// Reset replaces the engine with a fresh one. Counters start over and
// registrations are replayed.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	old := s.L
	if err := s.open(); err != nil {
		return err
	}
	old.Close()
	return nil
}

// Close releases the engine. Closing twice returns ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.L.Close()
	s.L = nil
	s.metrics.SessionClosed()
	return nil
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
