package sandbox

import (
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// BudgetScope selects how long an instruction budget lasts.
type BudgetScope string

const (
	// BudgetSession accumulates steps across every run of a session.
	BudgetSession BudgetScope = "session"
	// BudgetRun restarts the step counter at the beginning of each run.
	BudgetRun BudgetScope = "run"
)

// DefaultMemorySampleInterval caps the number of steps between heap samples.
// Samples come sooner as the footprint nears the ceiling.
const DefaultMemorySampleInterval = 1000

// Config defines sandbox configuration
type Config struct {
	RootPath             string        // Directory of auxiliary modules, prepended to package.path
	SandboxDir           string        // Directory of untrusted experiment scripts
	MaxInstructions      int64         // Instruction steps before abort, 0 = unlimited
	MaxMemory            int64         // Byte ceiling, 0 = unlimited
	BudgetScope          BudgetScope   // Lifetime of the instruction budget
	ExposeBuiltins       bool          // Fall through to session globals on env misses
	MemorySampleInterval int64         // Most steps between heap samples
	Timeout              time.Duration // Wall-clock bound per run, 0 = none
}

// Result holds execution result
type Result struct {
	RunID      string        // Unique run identifier
	Value      interface{}   // Value returned by the script
	Steps      int64         // Instruction steps executed during the run
	PeakMemory int64         // Highest charged footprint in bytes
	Duration   time.Duration // Execution time
	Error      error         // Execution error

	raw lua.LValue
}

// Table returns the value returned by the script if it is a table. The
// table belongs to the session engine and is valid until the session is
// reset or closed.
func (r *Result) Table() (*lua.LTable, bool) {
	tbl, ok := r.raw.(*lua.LTable)
	return tbl, ok
}

// DefaultConfig returns the configuration used by the command line defaults.
func DefaultConfig() Config {
	return Config{
		RootPath:             "luasrc",
		SandboxDir:           "sandbox",
		BudgetScope:          BudgetSession,
		MemorySampleInterval: DefaultMemorySampleInterval,
	}
}

// Validate checks limits and paths before any engine state is created.
func (c Config) Validate() error {
	if c.MaxInstructions < 0 {
		return configError(fmt.Errorf("max instructions must be >= 0, got %d", c.MaxInstructions))
	}
	if c.MaxMemory < 0 {
		return configError(fmt.Errorf("max memory must be >= 0, got %d", c.MaxMemory))
	}
	if c.MemorySampleInterval < 0 {
		return configError(fmt.Errorf("memory sample interval must be >= 0, got %d", c.MemorySampleInterval))
	}
	switch c.BudgetScope {
	case "", BudgetSession, BudgetRun:
	default:
		return configError(fmt.Errorf("unknown budget scope %q", c.BudgetScope))
	}
	if c.RootPath == "" {
		return configError(fmt.Errorf("root path is required"))
	}
	info, err := os.Stat(c.RootPath)
	if err != nil {
		return configError(fmt.Errorf("root path: %w", err))
	}
	if !info.IsDir() {
		return configError(fmt.Errorf("root path %s is not a directory", c.RootPath))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BudgetScope == "" {
		c.BudgetScope = BudgetSession
	}
	if c.MemorySampleInterval == 0 {
		c.MemorySampleInterval = DefaultMemorySampleInterval
	}
	return c
}
