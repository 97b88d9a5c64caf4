package command_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/persistence"
)

type (
	note struct {
		persistence.Record
		Text string `json:"text"`
	}

	stubBackend struct {
		rows     map[string]*note
		revs     map[string]int
		counter  int64
		inserts  int
		failNext int
	}
)

const kindNote = persistence.Kind("note")

func (*note) Kind() persistence.Kind { return kindNote }
func (n *note) State() any           { return n.Text }

func newStubBackend() *stubBackend {
	return &stubBackend{
		rows: map[string]*note{},
		revs: map[string]int{},
	}
}

func (b *stubBackend) Insert(
	_ context.Context, obj persistence.PersistentObject,
) error {
	n := obj.(*note)
	cp := *n
	b.rows[n.ID()] = &cp
	b.revs[n.ID()] = 0
	b.inserts++
	return nil
}

func (b *stubBackend) Update(
	_ context.Context, obj persistence.PersistentObject, expectedRev int,
) (bool, error) {
	if b.failNext > 0 {
		b.failNext--
		return false, nil
	}
	n := obj.(*note)
	if cur, ok := b.revs[n.ID()]; !ok ||
		(expectedRev >= 0 && cur != expectedRev) {
		return false, nil
	}
	cp := *n
	b.rows[n.ID()] = &cp
	b.revs[n.ID()] = expectedRev + 1
	return true, nil
}

func (b *stubBackend) Delete(
	_ context.Context, obj persistence.PersistentObject,
) error {
	delete(b.rows, obj.ID())
	delete(b.revs, obj.ID())
	return nil
}

func (b *stubBackend) SelectByID(
	_ context.Context, _ persistence.Kind, id string,
) (persistence.PersistentObject, error) {
	n, ok := b.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrNotFound, id)
	}
	cp := *n
	cp.SetID(id)
	cp.SetRevision(b.revs[id])
	return &cp, nil
}

func (b *stubBackend) SelectList(
	_ context.Context, _ persistence.Query,
) ([]persistence.PersistentObject, error) {
	return nil, nil
}

func (b *stubBackend) NextIDBlock(
	_ context.Context, size int64,
) (int64, error) {
	b.counter += size
	return b.counter, nil
}

func (b *stubBackend) Properties(
	_ context.Context,
) (map[string]string, error) {
	return map[string]string{}, nil
}

func (b *stubBackend) Counts(
	_ context.Context,
) (map[persistence.Kind]int64, error) {
	return nil, nil
}

func newExecutor(t *testing.T, b *stubBackend) *command.Executor {
	t.Helper()
	e, err := command.NewExecutor(&command.Config{Backend: b})
	require.NoError(t, err)
	return e
}

func TestCommandFlushesOnSuccess(t *testing.T) {
	backend := newStubBackend()
	e := newExecutor(t, backend)

	id, err := command.Run(e, context.Background(), "AddNote",
		func(c *command.Context) (string, error) {
			n := &note{Text: "hello"}
			if err := c.Session.Insert(c.Context, n); err != nil {
				return "", err
			}
			return n.ID(), nil
		})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "hello", backend.rows[id].Text)
}

func TestFailedCommandDoesNotFlush(t *testing.T) {
	backend := newStubBackend()
	e := newExecutor(t, backend)
	boom := errors.New("boom")

	_, err := command.Run(e, context.Background(), "Fail",
		func(c *command.Context) (any, error) {
			n := &note{Text: "never"}
			if err := c.Session.Insert(c.Context, n); err != nil {
				return nil, err
			}
			return nil, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, backend.inserts)
}

func TestNestedCommandSharesSession(t *testing.T) {
	backend := newStubBackend()
	e := newExecutor(t, backend)

	var outer, inner *command.Context
	_, err := command.Run(e, context.Background(), "Outer",
		func(c *command.Context) (any, error) {
			outer = c
			return command.Run(e, c.Context, "Inner",
				func(c *command.Context) (any, error) {
					inner = c
					return nil, c.Session.Insert(c.Context, &note{Text: "n"})
				})
		})
	require.NoError(t, err)
	assert.Same(t, outer, inner)
	assert.Equal(t, 1, backend.inserts)
}

func TestRetryOnOptimisticLock(t *testing.T) {
	backend := newStubBackend()
	backend.rows["1"] = &note{Text: "a"}
	backend.revs["1"] = 0
	backend.failNext = 1
	e := newExecutor(t, backend)

	attempts := 0
	_, err := command.Run(e, context.Background(), "Touch",
		func(c *command.Context) (any, error) {
			attempts++
			obj, err := c.Session.FindByID(c.Context, kindNote, "1")
			if err != nil {
				return nil, err
			}
			obj.(*note).Text = "b"
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "b", backend.rows["1"].Text)
}

func TestRetryGivesUp(t *testing.T) {
	backend := newStubBackend()
	backend.rows["1"] = &note{Text: "a"}
	backend.revs["1"] = 0
	backend.failNext = 100
	e := newExecutor(t, backend)

	attempts := 0
	_, err := command.Run(e, context.Background(), "Touch",
		func(c *command.Context) (any, error) {
			attempts++
			obj, err := c.Session.FindByID(c.Context, kindNote, "1")
			if err != nil {
				return nil, err
			}
			obj.(*note).Text = "b"
			return nil, nil
		})
	assert.ErrorIs(t, err, persistence.ErrOptimisticLocking)
	assert.Equal(t, command.DefaultRetries, attempts)
}

func TestEventsPublishedAfterFlush(t *testing.T) {
	backend := newStubBackend()
	hub := events.NewHub()
	defer hub.Close()

	e, err := command.NewExecutor(&command.Config{
		Backend: backend,
		Hub:     hub,
	})
	require.NoError(t, err)

	cons := hub.Subscribe()
	defer cons.Close()

	_, err = command.Run(e, context.Background(), "Emit",
		func(c *command.Context) (any, error) {
			c.Publish(&events.Event{Type: events.ProcessStarted})
			return nil, nil
		})
	require.NoError(t, err)

	ev := <-cons.Receive()
	assert.Equal(t, events.ProcessStarted, ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestEventsDiscardedOnFailure(t *testing.T) {
	backend := newStubBackend()
	hub := events.NewHub()
	defer hub.Close()

	e, err := command.NewExecutor(&command.Config{
		Backend: backend,
		Hub:     hub,
	})
	require.NoError(t, err)

	cons := hub.Subscribe()
	defer cons.Close()

	boom := errors.New("boom")
	_, err = command.Run(e, context.Background(), "Emit",
		func(c *command.Context) (any, error) {
			c.Publish(&events.Event{Type: events.ProcessStarted})
			return nil, boom
		})
	assert.ErrorIs(t, err, boom)

	select {
	case ev := <-cons.Receive():
		t.Fatalf("unexpected event: %v", ev.Type)
	default:
	}
}
