package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/infrastructure/monitoring"
)

var (
	ErrPoolClosed = errors.New("sandbox pool is closed")
	ErrTimeout    = errors.New("sandbox acquisition timeout")
)

// Registrar performs the registration step on a freshly created session.
type Registrar func(*Session) error

// PoolConfig defines pool behaviour
type PoolConfig struct {
	Name           string        // Session name prefix
	Size           int           // Number of pre-created sessions
	AcquireTimeout time.Duration // Wait limit for a free session
	Registrar      Registrar     // Applied to every new session
	Logger         *zap.Logger
	Metrics        *monitoring.Metrics
}

// Pool manages a pool of reusable sessions. Each session is used by one
// goroutine at a time.
type Pool struct {
	config    Config
	pool      PoolConfig
	sandboxes chan *Session
	mu        sync.RWMutex
	closed    bool
}

// NewPool creates a sandbox pool
func NewPool(config Config, pc PoolConfig) (*Pool, error) {
	if pc.Size <= 0 {
		pc.Size = 4
	}
	if pc.AcquireTimeout <= 0 {
		pc.AcquireTimeout = 5 * time.Second
	}
	if pc.Name == "" {
		pc.Name = "pool"
	}
	if pc.Logger == nil {
		pc.Logger = zap.NewNop()
	}

	p := &Pool{
		config:    config,
		pool:      pc,
		sandboxes: make(chan *Session, pc.Size),
	}

	// Pre-create sessions
	for i := 0; i < pc.Size; i++ {
		session, err := p.newSession(i)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.sandboxes <- session
	}
	p.pool.Metrics.SetPoolAvailable(len(p.sandboxes))

	return p, nil
}

func (p *Pool) newSession(i int) (*Session, error) {
	session, err := New(fmt.Sprintf("%s-%d", p.pool.Name, i), p.config,
		WithLogger(p.pool.Logger),
		WithMetrics(p.pool.Metrics),
	)
	if err != nil {
		return nil, err
	}
	if p.pool.Registrar != nil {
		if err := p.pool.Registrar(session); err != nil {
			session.Close()
			return nil, fmt.Errorf("register primitives: %w", err)
		}
	}
	return session, nil
}

// Acquire gets a session from the pool with timeout
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.pool.AcquireTimeout)
	defer timer.Stop()

	select {
	case session := <-p.sandboxes:
		p.pool.Metrics.SetPoolAvailable(len(p.sandboxes))
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Release returns a session to the pool. Sessions whose last run failed
// with an internal error get a fresh engine first. Resource failures keep
// the engine and its cumulative counters.
func (p *Pool) Release(session *Session, runErr error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return session.Close()
	}

	if runErr != nil {
		if KindOf(runErr) == KindInternal {
			if err := session.Reset(); err != nil {
				session.Close()
				p.pool.Logger.Warn("Failed to reset sandbox, replacing", zap.Error(err))
				replacement, err := p.newSession(len(p.sandboxes))
				if err != nil {
					return err
				}
				session = replacement
			}
		}
	}

	select {
	case p.sandboxes <- session:
		p.pool.Metrics.SetPoolAvailable(len(p.sandboxes))
		return nil
	default:
		// Pool full, close session
		return session.Close()
	}
}

// Execute runs script using a pooled session
func (p *Pool) Execute(ctx context.Context, script, environment string) (*Result, error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	result, runErr := session.Run(ctx, script, environment)
	if err := p.Release(session, runErr); err != nil {
		p.pool.Logger.Warn("Failed to release sandbox", zap.Error(err))
	}
	return result, runErr
}

// Close closes the pool and all idle sessions
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sandboxes)

	for session := range p.sandboxes {
		session.Close()
	}
	p.pool.Metrics.SetPoolAvailable(0)

	return nil
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"in_use"`
	Closed    bool `json:"closed"`
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:      p.pool.Size,
		Available: len(p.sandboxes),
		InUse:     p.pool.Size - len(p.sandboxes),
		Closed:    p.closed,
	}
}
