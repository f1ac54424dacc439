package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/yuin/gluamapper"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

var (
	ErrNoSettingsTable = errors.New("settings script must return a table")
	ErrNoExperiments   = errors.New("settings define no experiments")
)

// Experiment is one scheduled script. Script is relative to the sandbox
// directory and Environment to the luasrc directory; an empty Environment
// selects the scheduler default. Zero MaxRuns means unlimited and zero
// MaxFailures never quarantines.
type Experiment struct {
	Name        string `gluamapper:"name" json:"name"`
	Schedule    string `gluamapper:"schedule" json:"schedule"`
	Script      string `gluamapper:"script" json:"script"`
	Environment string `gluamapper:"environment" json:"environment"`
	MaxRuns     int    `gluamapper:"max_runs" json:"max_runs"`
	MaxFailures int    `gluamapper:"max_failures" json:"max_failures"`
}

// Settings is the table returned by the settings script.
type Settings struct {
	Experiments []Experiment `gluamapper:"experiments"`
}

var mapper = gluamapper.NewMapper(gluamapper.Option{NameFunc: gluamapper.Id})

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LoadSettings evaluates the settings script in session and decodes the
// returned table.
func LoadSettings(ctx context.Context, session *sandbox.Session, path string) (*Settings, error) {
	result, err := session.Run(ctx, path, "")
	if err != nil {
		return nil, err
	}
	tbl, ok := result.Table()
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSettingsTable)
	}

	var settings Settings
	if err := mapper.Map(tbl, &settings); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &settings, nil
}

// Validate checks names, schedules and limits.
func (s *Settings) Validate() error {
	if len(s.Experiments) == 0 {
		return ErrNoExperiments
	}
	seen := make(map[string]bool, len(s.Experiments))
	for i, exp := range s.Experiments {
		if exp.Name == "" {
			return fmt.Errorf("experiment #%d: name is required", i+1)
		}
		if seen[exp.Name] {
			return fmt.Errorf("experiment %q: duplicate name", exp.Name)
		}
		seen[exp.Name] = true

		if exp.Script == "" {
			return fmt.Errorf("experiment %q: script is required", exp.Name)
		}
		if _, err := parser.Parse(exp.Schedule); err != nil {
			return fmt.Errorf("experiment %q: invalid schedule %q: %w", exp.Name, exp.Schedule, err)
		}
		if exp.MaxRuns < 0 {
			return fmt.Errorf("experiment %q: max_runs must be >= 0", exp.Name)
		}
		if exp.MaxFailures < 0 {
			return fmt.Errorf("experiment %q: max_failures must be >= 0", exp.Name)
		}
	}
	return nil
}
