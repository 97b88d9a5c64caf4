// Package command executes engine operations through an interceptor
// pipeline: invocation logging, bounded retry on optimistic-lock failure,
// and unit-of-work binding. Every state change in the engine runs as a
// command against exactly one persistence session
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/persistence"
)

type (
	// Clock supplies the current time. Injecting it keeps timer and lock
	// expiration behavior testable
	Clock func() time.Time

	// Command is a unit of engine work executed against a Context
	Command[T any] func(*Context) (T, error)

	// Context carries the state shared by a command and any commands
	// nested within it
	Context struct {
		Context context.Context
		Session *persistence.Session
		Clock   Clock
		Log     *slog.Logger
		pending []*events.Event
	}

	ambientKey struct{}
)

// Publish buffers an event for delivery after the unit of work flushes.
// Events from a failed command are discarded along with its session
func (c *Context) Publish(ev *events.Event) {
	if ev.Time.IsZero() {
		ev.Time = c.Clock()
	}
	c.pending = append(c.pending, ev)
}

// Now returns the injected current time
func (c *Context) Now() time.Time {
	return c.Clock()
}

func fromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ambientKey{}).(*Context)
	return c, ok
}

// Run executes a command through the executor's pipeline. When the
// provided context already carries an in-flight command context, the
// command joins that ambient unit of work instead of opening its own
func Run[T any](
	e *Executor, ctx context.Context, name string, cmd Command[T],
) (T, error) {
	if cur, ok := fromContext(ctx); ok {
		return cmd(cur)
	}
	res, err := e.execute(ctx, name, func(c *Context) (any, error) {
		return cmd(c)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
