package sandbox

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// budget is the instruction budget supervisor. The engine polls Done once
// per VM instruction, so every poll is one step. When a limit is hit the
// abort is delivered back into the same loop through a closed Done channel
// and Err names the cause.
type budget struct {
	parent context.Context

	limit    int64 // steps before abort, 0 = unlimited
	steps    int64 // steps since the last trip or reset
	runSteps int64 // steps during the current run

	// memory meter hook, may be nil; returns the steps until the next sample
	sample      func() (int64, error)
	untilSample int64

	cause error
}

func newBudget(limit int64) *budget {
	return &budget{
		parent: context.Background(),
		limit:  limit,
	}
}

// begin prepares the budget for a new run chained to ctx.
func (b *budget) begin(ctx context.Context, fresh bool) {
	b.parent = ctx
	b.cause = nil
	b.runSteps = 0
	b.untilSample = 1
	if fresh {
		b.steps = 0
	}
}

// end detaches the run context.
func (b *budget) end() {
	b.parent = context.Background()
}

func (b *budget) Deadline() (time.Time, bool) {
	return b.parent.Deadline()
}

func (b *budget) Value(key any) any {
	return b.parent.Value(key)
}

func (b *budget) Err() error {
	return b.cause
}

// Done counts one step. Once tripped it stays closed for the rest of the
// run so a script cannot swallow the abort with pcall.
func (b *budget) Done() <-chan struct{} {
	if b.cause != nil {
		return closedChan
	}
	if done := b.parent.Done(); done != nil {
		select {
		case <-done:
			b.cause = b.parent.Err()
			return closedChan
		default:
		}
	}

	b.steps++
	b.runSteps++
	if b.limit > 0 && b.steps >= b.limit {
		b.steps = 0
		b.cause = ErrInstructionLimit
		return closedChan
	}
	if b.sample != nil {
		b.untilSample--
		if b.untilSample <= 0 {
			next, err := b.sample()
			if err != nil {
				b.cause = err
				return closedChan
			}
			b.untilSample = next
		}
	}
	return nil
}

// RunContext returns the context of the run L is executing, for
// primitives that block. Outside a run it is context.Background.
func RunContext(L *lua.LState) context.Context {
	switch ctx := L.Context().(type) {
	case *budget:
		return ctx.parent
	case nil:
		return context.Background()
	default:
		return ctx
	}
}

// attach makes coroutines count against b. The engine gives a new thread a
// derived context of its own, which would never see a step.
func (b *budget) attach(L *lua.LState) {
	co, ok := L.GetGlobal(lua.CoroutineLibName).(*lua.LTable)
	if !ok {
		return
	}
	for _, name := range []string{"create", "wrap"} {
		orig, ok := co.RawGetString(name).(*lua.LFunction)
		if !ok || !orig.IsG {
			continue
		}
		inner := orig.GFunction
		co.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			n := inner(L)
			switch v := L.Get(-1).(type) {
			case *lua.LState:
				v.SetContext(b)
			case *lua.LFunction:
				// coroutine.wrap keeps the thread as its only upvalue
				if len(v.Upvalues) == 1 {
					if th, ok := v.Upvalues[0].Value().(*lua.LState); ok {
						th.SetContext(b)
					}
				}
			}
			return n
		}))
	}
}
