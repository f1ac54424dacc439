package scheduling

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/censorscope/internal/sandbox"
	"github.com/GriffinCanCode/censorscope/internal/shared/id"
)

// Experiment run statuses, as recorded in metrics.
const (
	StatusSuccess     = "success"
	StatusFailure     = "failure"
	StatusQuarantined = "quarantined"
)

// Executor runs one script with an environment. *sandbox.Pool satisfies it.
type Executor interface {
	Execute(ctx context.Context, script, environment string) (*sandbox.Result, error)
}

// Config configures a Scheduler.
type Config struct {
	SandboxDir  string // base of Experiment.Script
	LuasrcDir   string // base of Experiment.Environment
	Environment string // default environment path, may be empty
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Status is a point-in-time view of one experiment.
type Status struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	Runs        int       `json:"runs"`
	Failures    int       `json:"failures"`
	Quarantined bool      `json:"quarantined"`
	Finished    bool      `json:"finished"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type experiment struct {
	Experiment
	id     id.ExperimentID
	entry  cron.EntryID
	status Status
}

// Scheduler fires experiments on their cron schedules.
type Scheduler struct {
	executor Executor
	config   Config
	logger   *zap.Logger
	cron     *cron.Cron

	mu          sync.Mutex
	experiments []*experiment
	active      int
	ctx         context.Context
	done        chan struct{}
}

// New creates a scheduler for settings. Nothing fires until Run.
func New(executor Executor, settings *Settings, config Config) (*Scheduler, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Scheduler{
		executor: executor,
		config:   config,
		logger:   config.Logger,
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{s.logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{s.logger.Sugar()})),
	)

	for _, spec := range settings.Experiments {
		exp := &experiment{Experiment: spec, id: id.NewExperimentID()}
		exp.status = Status{ID: exp.id.String(), Name: spec.Name, Schedule: spec.Schedule}

		entry, err := s.cron.AddFunc(spec.Schedule, func() { s.fire(exp) })
		if err != nil {
			return nil, err
		}
		exp.entry = entry
		s.experiments = append(s.experiments, exp)
	}
	s.active = len(s.experiments)
	return s, nil
}

// Run starts the schedule and blocks until every experiment has finished
// or ctx ends. Runs in flight are waited for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Scheduler started", zap.Int("experiments", len(s.experiments)))
	s.cron.Start()

	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) fire(exp *experiment) {
	s.mu.Lock()
	if exp.status.Finished {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("experiment", exp.Name),
		zap.String("experiment_id", exp.id.String()),
	)
	logger.Debug("Firing experiment")

	started := time.Now()
	result, err := s.executor.Execute(ctx, s.scriptPath(exp), s.environmentPath(exp))
	if errors.Is(err, context.Canceled) {
		// shutting down; the run has no outcome
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exp.status.Runs++
	exp.status.LastRun = started

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		exp.status.Failures++
		exp.status.LastError = err.Error()
		logger.Warn("Experiment failed", zap.Error(err), zap.Int("failures", exp.status.Failures))
	} else {
		exp.status.Failures = 0
		exp.status.LastError = ""
		logger.Info("Experiment finished",
			zap.String("run_id", result.RunID),
			zap.Duration("duration", result.Duration),
			zap.Int64("steps", result.Steps),
		)
	}
	s.config.Metrics.RecordExperiment(exp.Name, status)

	switch {
	case exp.MaxFailures > 0 && exp.status.Failures >= exp.MaxFailures:
		exp.status.Quarantined = true
		s.config.Metrics.RecordExperiment(exp.Name, StatusQuarantined)
		logger.Error("Experiment quarantined", zap.Int("failures", exp.status.Failures))
		s.finish(exp)
	case exp.MaxRuns > 0 && exp.status.Runs >= exp.MaxRuns:
		s.finish(exp)
	}
}

// finish removes exp from the schedule. Callers hold s.mu.
func (s *Scheduler) finish(exp *experiment) {
	if exp.status.Finished {
		return
	}
	exp.status.Finished = true
	s.cron.Remove(exp.entry)
	s.active--
	if s.active == 0 {
		close(s.done)
	}
}

func (s *Scheduler) scriptPath(exp *experiment) string {
	if filepath.IsAbs(exp.Script) {
		return exp.Script
	}
	return filepath.Join(s.config.SandboxDir, exp.Script)
}

func (s *Scheduler) environmentPath(exp *experiment) string {
	switch {
	case exp.Environment == "":
		return s.config.Environment
	case filepath.IsAbs(exp.Environment):
		return exp.Environment
	default:
		return filepath.Join(s.config.LuasrcDir, exp.Environment)
	}
}

// Statuses returns the state of every experiment, ordered by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.experiments))
	for _, exp := range s.experiments {
		out = append(out, exp.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's own diagnostics to zap.
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
