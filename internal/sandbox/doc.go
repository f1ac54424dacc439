/*
Package sandbox provides Lua execution sandboxing for untrusted experiment scripts.

# Overview

The sandbox system runs untrusted scripts inside isolated sessions backed by
the gopher-lua engine. Each session has:

  - Memory limits (byte ceiling enforced by an allocation accountant)
  - Instruction limits (step budget sampled by the engine's own VM loop)
  - Script form checks (pre-compiled bytecode is never loaded)
  - Per-run environment fencing (the script sees only its environment table)

# Architecture

A session is assembled from small parts:

 1. Accountant: bounded pool tracker answering (old, new) size requests
 2. Meter: estimates the script-reachable heap and feeds the accountant
 3. Budget: counting context polled once per VM instruction
 4. Validator: first-byte check for the bytecode marker
 5. Environment: optional environment script producing the global table

# Run State Machine

	Validate -> Load(script) -> {EmptyEnv | Load+Eval(environment)} -> Bind(env) -> Eval(script)

Any failing step ends the run with a typed *Error. A failed run never ends the
session; counters are not reset unless BudgetRun is configured or Reset is
called.

# Usage Example

	session, err := sandbox.New("dns", sandbox.Config{
		RootPath:        "luasrc",
		MaxInstructions: 1_000_000,
		MaxMemory:       8 << 20,
	}, sandbox.WithLogger(logger))
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.Run(ctx, "sandbox/dns.lua", "luasrc/api.lua")
	if errors.Is(err, sandbox.ErrInstructionLimit) {
		logger.Warn("experiment ran too long")
	}

# Concurrency

A session is not safe for concurrent runs; Run serializes on the session.
Use Pool to run scripts from several goroutines, one session each.
*/
package sandbox
