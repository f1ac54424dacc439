// Package primitives registers the host functions the Lua primitives API
// is built on.
//
// Every session gets a single global module, censorscope, holding:
//   - debug, info, warn, error: structured log lines tagged with the sandbox name
//   - time: wall clock in fractional Unix seconds
//   - sleep_ms: a bounded pause
//   - id: a fresh sortable identifier
//
// Registration happens once per session, after creation and before any
// run, and is replayed by Session.Reset:
//
//	session, _ := sandbox.New("dns", cfg)
//	primitives.Register(session, primitives.Options{Logger: logger})
//
// The untrusted scripts never see the module directly; luasrc/api.lua picks
// what it re-exports into the environment table.
package primitives
