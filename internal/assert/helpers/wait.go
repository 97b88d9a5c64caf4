package helpers

import (
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/pkg/api"
)

// EventWaiter waits for a hub event matching a filter. Create before
// triggering the action so the event cannot be missed
type EventWaiter struct {
	consumer topic.Consumer[*events.Event]
	match    func(*events.Event) bool
	desc     string
}

// Wait blocks until a matching event arrives and returns it
func (w *EventWaiter) Wait(
	t *testing.T, timeout time.Duration,
) *events.Event {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				t.Fatalf("hub closed waiting for %s", w.desc)
			}
			if w.match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		}
	}
}

// ExpectEvent creates a waiter for the first event of any listed type
func (env *TestEnv) ExpectEvent(types ...events.Type) *EventWaiter {
	wanted := map[events.Type]bool{}
	desc := ""
	for _, typ := range types {
		wanted[typ] = true
		if desc != "" {
			desc += " or "
		}
		desc += string(typ)
	}
	return &EventWaiter{
		consumer: env.Hub.Subscribe(),
		match: func(ev *events.Event) bool {
			return wanted[ev.Type]
		},
		desc: desc,
	}
}

// ExpectProcessEnded creates a waiter for one instance's completion
func (env *TestEnv) ExpectProcessEnded(
	id api.ProcessInstanceID,
) *EventWaiter {
	return &EventWaiter{
		consumer: env.Hub.Subscribe(),
		match: func(ev *events.Event) bool {
			return ev.Type == events.ProcessEnded && ev.Process == id
		},
		desc: "process ended: " + string(id),
	}
}

// ExpectActivityStarted creates a waiter for an instance reaching an
// activity
func (env *TestEnv) ExpectActivityStarted(
	id api.ProcessInstanceID, activity api.ActivityID,
) *EventWaiter {
	return &EventWaiter{
		consumer: env.Hub.Subscribe(),
		match: func(ev *events.Event) bool {
			return ev.Type == events.ActivityStarted &&
				ev.Process == id && ev.Activity == activity
		},
		desc: "activity started: " + string(activity),
	}
}

// ExpectDeadLetter creates a waiter for an instance's job exhausting its
// retries
func (env *TestEnv) ExpectDeadLetter(
	id api.ProcessInstanceID,
) *EventWaiter {
	return &EventWaiter{
		consumer: env.Hub.Subscribe(),
		match: func(ev *events.Event) bool {
			return ev.Type == events.JobDeadLettered && ev.Process == id
		},
		desc: "dead letter for process: " + string(id),
	}
}
