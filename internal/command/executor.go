package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/log"
)

type (
	// Config wires an Executor to its backend and ambient services
	Config struct {
		Backend persistence.Backend
		Kinds   persistence.Registry
		IDs     *persistence.IDGenerator
		Clock   Clock
		Log     *slog.Logger
		Hub     *events.Hub
		Retries int
	}

	// Executor runs commands through the interceptor pipeline
	Executor struct {
		backend persistence.Backend
		kinds   persistence.Registry
		ids     *persistence.IDGenerator
		clock   Clock
		log     *slog.Logger
		hub     *events.Hub
		retries int
	}

	request struct {
		ctx  context.Context
		cmd  func(*Context) (any, error)
		name string
	}
)

const (
	// DefaultRetries bounds attempts of a command that keeps losing
	// optimistic-lock races
	DefaultRetries = 3

	retryWait       = 50 * time.Millisecond
	retryWaitFactor = 5
)

var ErrBackendRequired = errors.New("backend required")

// NewExecutor creates an executor from the given configuration
func NewExecutor(cfg *Config) (*Executor, error) {
	if cfg.Backend == nil {
		return nil, ErrBackendRequired
	}
	e := &Executor{
		backend: cfg.Backend,
		kinds:   cfg.Kinds,
		ids:     cfg.IDs,
		clock:   cfg.Clock,
		log:     cfg.Log,
		hub:     cfg.Hub,
		retries: cfg.Retries,
	}
	if e.ids == nil {
		e.ids = persistence.NewIDGenerator(
			cfg.Backend, persistence.DefaultIDBlockSize,
		)
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.retries <= 0 {
		e.retries = DefaultRetries
	}
	return e, nil
}

// Clock returns the executor's time source
func (e *Executor) Clock() Clock {
	return e.clock
}

func (e *Executor) execute(
	ctx context.Context, name string, cmd func(*Context) (any, error),
) (any, error) {
	return e.logged(&request{ctx: ctx, name: name, cmd: cmd})
}

// logged reports command invocations and their outcome
func (e *Executor) logged(req *request) (any, error) {
	started := time.Now()
	e.log.Debug("Executing command", log.Command(req.name))
	res, err := e.retried(req)
	if err != nil {
		e.log.Error("Command failed",
			log.Command(req.name),
			slog.Duration("elapsed", time.Since(started)),
			log.Error(err))
		return nil, err
	}
	e.log.Debug("Command completed",
		log.Command(req.name),
		slog.Duration("elapsed", time.Since(started)))
	return res, nil
}

// retried re-runs a command that lost an optimistic-lock race, each
// attempt against a fresh session. Other failures pass through
func (e *Executor) retried(req *request) (any, error) {
	wait := retryWait
	var err error
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			e.log.Warn("Retrying command after optimistic lock failure",
				log.Command(req.name),
				slog.Int("attempt", attempt+1))
			time.Sleep(wait)
			wait *= retryWaitFactor
		}
		var res any
		res, err = e.bound(req)
		if err == nil || !errors.Is(err, persistence.ErrOptimisticLocking) {
			return res, err
		}
	}
	return nil, err
}

// bound opens the unit of work, exposes it as the ambient context for
// nested commands, and flushes it when the command succeeds. Buffered
// events are published only after a successful flush
func (e *Executor) bound(req *request) (any, error) {
	c := &Context{
		Session: persistence.NewSession(e.backend, e.ids, e.kinds),
		Clock:   e.clock,
		Log:     e.log,
	}
	c.Context = context.WithValue(req.ctx, ambientKey{}, c)

	res, err := req.cmd(c)
	if err != nil {
		return nil, err
	}
	if err := c.Session.Flush(c.Context); err != nil {
		return nil, err
	}
	if e.hub != nil {
		for _, ev := range c.pending {
			e.hub.Publish(ev)
		}
	}
	return res, nil
}
