package events_test

import (
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/internal/events"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	cons := hub.Subscribe()
	defer cons.Close()

	hub.Publish(&events.Event{
		Type:    events.JobCreated,
		Job:     "job-1",
		Process: "proc-1",
	})

	select {
	case ev := <-cons.Receive():
		assert.Equal(t, events.JobCreated, ev.Type)
		assert.Equal(t, "job-1", string(ev.Job))
	case <-time.After(time.Second):
		require.Fail(t, "event not delivered")
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	first := hub.Subscribe()
	defer first.Close()
	second := hub.Subscribe()
	defer second.Close()

	hub.Publish(&events.Event{Type: events.ProcessStarted})

	for _, cons := range []topic.Consumer[*events.Event]{first, second} {
		select {
		case ev := <-cons.Receive():
			assert.Equal(t, events.ProcessStarted, ev.Type)
		case <-time.After(time.Second):
			require.Fail(t, "event not delivered")
		}
	}
}
