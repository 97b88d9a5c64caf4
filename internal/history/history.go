// Package history keeps an event-sourced audit trail per process
// instance: every engine event that names a process is folded into a
// queryable Trail aggregate
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/util"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Trail is the accumulated audit state of one process instance
	Trail struct {
		Variables    map[api.VariableName]any `json:"variables,omitempty"`
		ProcessID    api.ProcessInstanceID    `json:"process"`
		DefinitionID api.ProcessDefinitionID  `json:"definition"`
		Activities   []*ActivityRecord        `json:"activities,omitempty"`
		DeadLetters  []api.JobID              `json:"dead_letters,omitempty"`
		StartedAt    time.Time                `json:"started_at"`
		EndedAt      time.Time                `json:"ended_at,omitempty"`
		EndReason    string                   `json:"end_reason,omitempty"`
		Ended        bool                     `json:"ended,omitempty"`
	}

	// ActivityRecord is one activity passage within a trail
	ActivityRecord struct {
		ActivityID api.ActivityID `json:"activity"`
		StartedAt  time.Time      `json:"started_at"`
		EndedAt    time.Time      `json:"ended_at,omitempty"`
	}

	// Executor manages trail persistence and event sourcing
	Executor = timebox.Executor[*Trail]

	// Aggregator aggregates trail state from events
	Aggregator = timebox.Aggregator[*Trail]

	// Store persists audit trails through a timebox event store
	Store struct {
		tb   *timebox.Timebox
		exec *Executor
	}
)

const trailPrefix = "process"

var ErrTrailNotFound = errors.New("no history for process")

// NewTrail creates an empty trail aggregate
func NewTrail() *Trail {
	return &Trail{}
}

// NewStore opens a trail store over the configured Redis endpoint
func NewStore(cfg timebox.StoreConfig) (*Store, error) {
	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
	})
	if err != nil {
		return nil, err
	}
	store, err := tb.NewStore(cfg)
	if err != nil {
		_ = tb.Close()
		return nil, err
	}
	return &Store{
		tb:   tb,
		exec: timebox.NewExecutor(store, NewTrail, trailAppliers),
	}, nil
}

// Record folds one engine event into its instance's trail. Events that
// name no process are not part of any trail
func (s *Store) Record(ctx context.Context, ev *events.Event) error {
	if ev.Process == "" {
		return nil
	}
	_, err := s.exec.Exec(ctx, trailKey(ev.Process),
		func(_ *Trail, ag *Aggregator) error {
			return util.Raise(ag, timebox.EventType(ev.Type), ev)
		})
	return err
}

// Trail returns the audit state of a process instance
func (s *Store) Trail(
	ctx context.Context, id api.ProcessInstanceID,
) (*Trail, error) {
	trail, err := s.exec.Exec(ctx, trailKey(id),
		func(*Trail, *Aggregator) error {
			return nil
		})
	if err != nil {
		return nil, err
	}
	if trail.ProcessID == "" {
		return nil, fmt.Errorf("%w: %s", ErrTrailNotFound, id)
	}
	return trail, nil
}

// ListProcesses returns the process instances with recorded history
func (s *Store) ListProcesses(
	ctx context.Context,
) ([]api.ProcessInstanceID, error) {
	ids, err := s.exec.GetStore().ListAggregates(
		ctx, timebox.NewAggregateID(trailPrefix, "*"),
	)
	if err != nil {
		return nil, err
	}
	res := make([]api.ProcessInstanceID, 0, len(ids))
	for _, id := range ids {
		if len(id) < 2 || id[0] != trailPrefix {
			continue
		}
		res = append(res, api.ProcessInstanceID(id[1]))
	}
	return res, nil
}

// Close releases the underlying timebox
func (s *Store) Close() error {
	return s.tb.Close()
}

func trailKey(id api.ProcessInstanceID) timebox.AggregateID {
	return timebox.NewAggregateID(trailPrefix, timebox.ID(id))
}

var trailAppliers = timebox.Appliers[*Trail]{
	timebox.EventType(events.ProcessStarted):  applyEvent(processStarted),
	timebox.EventType(events.ProcessEnded):    applyEvent(processEnded),
	timebox.EventType(events.ActivityStarted): applyEvent(activityStarted),
	timebox.EventType(events.ActivityEnded):   applyEvent(activityEnded),
	timebox.EventType(events.VariableUpdated): applyEvent(variableUpdated),
	timebox.EventType(events.JobDeadLettered): applyEvent(jobDeadLettered),
}

func applyEvent(
	fn func(*Trail, *events.Event) *Trail,
) func(*Trail, *timebox.Event) *Trail {
	return func(st *Trail, ev *timebox.Event) *Trail {
		var data events.Event
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return st
		}
		return fn(st, &data)
	}
}

func processStarted(st *Trail, ev *events.Event) *Trail {
	return &Trail{
		ProcessID:    ev.Process,
		DefinitionID: ev.Definition,
		StartedAt:    ev.Time,
	}
}

func processEnded(st *Trail, ev *events.Event) *Trail {
	res := *st
	res.Ended = true
	res.EndedAt = ev.Time
	res.EndReason = ev.Reason
	return &res
}

func activityStarted(st *Trail, ev *events.Event) *Trail {
	res := *st
	res.Activities = append(res.Activities, &ActivityRecord{
		ActivityID: ev.Activity,
		StartedAt:  ev.Time,
	})
	return &res
}

func activityEnded(st *Trail, ev *events.Event) *Trail {
	res := *st
	for i := len(res.Activities) - 1; i >= 0; i-- {
		rec := res.Activities[i]
		if rec.ActivityID == ev.Activity && rec.EndedAt.IsZero() {
			updated := *rec
			updated.EndedAt = ev.Time
			res.Activities[i] = &updated
			break
		}
	}
	return &res
}

func variableUpdated(st *Trail, ev *events.Event) *Trail {
	res := *st
	vars := make(map[api.VariableName]any, len(res.Variables)+1)
	for k, v := range res.Variables {
		vars[k] = v
	}
	vars[ev.Variable] = ev.Value
	res.Variables = vars
	return &res
}

func jobDeadLettered(st *Trail, ev *events.Event) *Trail {
	res := *st
	res.DeadLetters = append(res.DeadLetters, ev.Job)
	return &res
}
