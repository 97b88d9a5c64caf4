package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/paisley/internal/archive"
	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/util"
	"github.com/kode4food/paisley/pkg/api"
	"github.com/kode4food/paisley/pkg/log"
)

type (
	// Config wires an Executor to the command pipeline and tunes its
	// acquisition and worker-pool behavior
	Config struct {
		Commands  *command.Executor
		Handlers  *Handlers
		Hub       *events.Hub
		Archive   *archive.Store
		Log       *slog.Logger
		MakeTimer TimerConstructor
		LockTTL   time.Duration
		Wait      time.Duration
		MaxJobs   int
		Workers   int
		QueueSize int
	}

	// Executor is one job-executor node. It competes with other nodes
	// for due jobs, runs them on a bounded worker pool, and requeues or
	// dead-letters failures. The acquisition loop wakes early when a job
	// is added or when the next timer falls due before the normal wait
	Executor struct {
		cmds      *command.Executor
		handlers  *Handlers
		hub       *events.Hub
		archive   *archive.Store
		log       *slog.Logger
		makeTimer TimerConstructor
		lockOwner string
		queue     chan api.JobID
		stop      chan struct{}
		lockTTL   time.Duration
		wait      time.Duration
		maxJobs   int
		workers   int
		state     nodeState
		wg        sync.WaitGroup
		mu        sync.Mutex
	}

	// nodeState tracks an executor node through its lifecycle
	nodeState string

	deadLetterDump struct {
		Job   *Job   `json:"job"`
		Error string `json:"error"`
	}
)

const (
	// DefaultLockTTL is how long an acquired job stays claimed before
	// other nodes may steal it
	DefaultLockTTL = 5 * time.Minute

	// DefaultWait is the idle pause between acquisition cycles
	DefaultWait = 5 * time.Second

	// DefaultMaxJobs is the acquisition batch size
	DefaultMaxJobs = 3

	// DefaultWorkers is the size of the execution pool
	DefaultWorkers = 3

	// DefaultQueueSize bounds the dispatch queue; an overflowing
	// dispatch runs the job on the acquisition goroutine instead
	DefaultQueueSize = 3

	maxBackoff = 60 * time.Second

	nodeCreated nodeState = "created"
	nodeRunning nodeState = "running"
	nodeStopped nodeState = "stopped"
)

// nodeStates admits each lifecycle move exactly once; a stopped node
// cannot be restarted
var nodeStates = util.StateTransitions[nodeState]{
	nodeCreated: util.SetOf(nodeRunning, nodeStopped),
	nodeRunning: util.SetOf(nodeStopped),
	nodeStopped: util.SetOf[nodeState](),
}

var (
	ErrCommandsRequired = errors.New("command executor required")
	ErrHandlersRequired = errors.New("handler registry required")
	ErrShutdownTimeout  = errors.New("job executor shutdown timed out")
)

// NewExecutor creates a job executor node with a fresh lock owner
// identity
func NewExecutor(cfg *Config) (*Executor, error) {
	if cfg.Commands == nil {
		return nil, ErrCommandsRequired
	}
	if cfg.Handlers == nil {
		return nil, ErrHandlersRequired
	}
	e := &Executor{
		cmds:      cfg.Commands,
		handlers:  cfg.Handlers,
		hub:       cfg.Hub,
		archive:   cfg.Archive,
		log:       cfg.Log,
		makeTimer: cfg.MakeTimer,
		lockOwner: uuid.NewString(),
		lockTTL:   cfg.LockTTL,
		wait:      cfg.Wait,
		maxJobs:   cfg.MaxJobs,
		workers:   cfg.Workers,
		state:     nodeCreated,
		stop:      make(chan struct{}),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.makeTimer == nil {
		e.makeTimer = NewSystemTimer
	}
	if e.lockTTL <= 0 {
		e.lockTTL = DefaultLockTTL
	}
	if e.wait <= 0 {
		e.wait = DefaultWait
	}
	if e.maxJobs <= 0 {
		e.maxJobs = DefaultMaxJobs
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e.queue = make(chan api.JobID, queueSize)
	return e, nil
}

// LockOwner returns this node's claim identity
func (e *Executor) LockOwner() string {
	return e.lockOwner
}

// Start launches the worker pool and the acquisition loop. Starting a
// node that is already running or stopped does nothing
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !nodeStates.CanTransition(e.state, nodeRunning) {
		return
	}
	e.state = nodeRunning
	for range e.workers {
		e.wg.Go(e.worker)
	}
	e.wg.Go(e.acquisitionLoop)
	e.log.Info("Job executor started",
		log.LockOwner(e.lockOwner),
		slog.Int("workers", e.workers))
}

// Stop shuts the executor down, waiting up to timeout for in-flight
// jobs to finish
func (e *Executor) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if nodeStates.CanTransition(e.state, nodeStopped) {
		e.state = nodeStopped
		close(e.stop)
	}
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("Job executor stopped", log.LockOwner(e.lockOwner))
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (e *Executor) worker() {
	for {
		select {
		case <-e.stop:
			return
		case id := <-e.queue:
			e.runJob(id)
		}
	}
}

func (e *Executor) acquisitionLoop() {
	var added <-chan *events.Event
	var sub topic.Consumer[*events.Event]
	if e.hub != nil {
		sub = e.hub.Subscribe()
		defer sub.Close()
		added = sub.Receive()
	}

	timer := e.makeTimer(0)
	defer timer.Stop()
	drainTimer(timer)

	var backoff time.Duration
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		wait := e.wait
		acquired, err := command.Run(e.cmds, context.Background(),
			"AcquireJobs",
			AcquireJobs(e.lockOwner, e.lockTTL, e.maxJobs))
		if err != nil {
			backoff = nextBackoff(backoff, e.wait)
			wait = backoff
			e.log.Error("Job acquisition failed",
				log.LockOwner(e.lockOwner),
				slog.Duration("backoff", wait),
				log.Error(err))
		} else {
			backoff = 0
			for _, id := range acquired {
				e.dispatch(id)
			}
			if len(acquired) >= e.maxJobs {
				// a full batch suggests more work is waiting
				continue
			}
			wait = e.shortenForNextJob(wait)
		}

		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		if !e.sleep(timer, added) {
			return
		}
	}
}

// sleep waits for the timer, a job-added notification, or shutdown. It
// reports false when the executor is stopping
func (e *Executor) sleep(timer Timer, added <-chan *events.Event) bool {
	for {
		select {
		case <-e.stop:
			return false
		case ev, ok := <-added:
			if !ok {
				added = nil
				continue
			}
			if ev.Type == events.JobCreated || ev.Type == events.JobFailed {
				timer.Stop()
				drainTimer(timer)
				return true
			}
		case <-timer.Channel():
			return true
		}
	}
}

// shortenForNextJob trims the idle wait when the next timer falls due
// before it would elapse
func (e *Executor) shortenForNextJob(wait time.Duration) time.Duration {
	next, err := command.Run(e.cmds, context.Background(),
		"NextAvailableTime", NextAvailableTime())
	if err != nil || next.IsZero() {
		return wait
	}
	if until := next.Sub(e.cmds.Clock()()); until < wait {
		return until
	}
	return wait
}

func (e *Executor) dispatch(id api.JobID) {
	select {
	case e.queue <- id:
	default:
		// pool saturated: run on the caller
		e.runJob(id)
	}
}

func (e *Executor) runJob(id api.JobID) {
	_, err := command.Run(e.cmds, context.Background(), "ExecuteJob",
		ExecuteJob(id, e.lockOwner, e.handlers))
	if err == nil {
		return
	}
	if errors.Is(err, ErrJobClaimed) {
		return
	}
	e.log.Warn("Job execution failed", log.JobID(id), log.Error(err))

	job, failErr := command.Run(e.cmds, context.Background(), "FailJob",
		FailJob(id, err))
	if failErr != nil {
		e.log.Error("Failed to requeue job",
			log.JobID(id), log.Error(failErr))
		return
	}
	if job.IsDeadLettered() {
		e.log.Error("Job moved to dead letter", log.JobID(id))
		e.archiveDeadLetter(job, err)
	}
}

func (e *Executor) archiveDeadLetter(job *Job, cause error) {
	if e.archive == nil {
		return
	}
	dump, err := json.Marshal(&deadLetterDump{
		Job:   job,
		Error: cause.Error(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.archive.PutDeadLetter(
		ctx, api.JobID(job.ID()), dump,
	); err != nil {
		e.log.Error("Failed to archive dead letter",
			log.JobID(api.JobID(job.ID())), log.Error(err))
	}
}

func nextBackoff(cur, base time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func drainTimer(t Timer) {
	select {
	case <-t.Channel():
	default:
	}
}
