// Package logging provides structured logging using uber/zap.
//
// This package is the diagnostic sink of the sandbox host:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Sessions log engine diagnostics (script path and engine message), out of
// memory notices, validator rejections, and recovered panics with their
// stack. Script-facing primitives log through a child logger per sandbox.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	session, err := sandbox.New("dns", cfg, sandbox.WithLogger(logger.Sandbox("dns")))
package logging
