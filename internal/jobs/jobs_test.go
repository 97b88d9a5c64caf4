package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/caravan/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/internal/persistence/redisstore"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	testEnv struct {
		cmds *command.Executor
		hub  *events.Hub
		clk  *manualClock
	}

	manualClock struct {
		now time.Time
		mu  sync.Mutex
	}
)

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	kinds := persistence.Registry{}
	jobs.RegisterKinds(kinds)
	store, err := redisstore.Open(context.Background(), &redisstore.Config{
		Addr:   mr.Addr(),
		Prefix: "test",
	}, kinds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub()
	t.Cleanup(hub.Close)

	clk := &manualClock{now: time.Now().Truncate(time.Millisecond)}
	cmds, err := command.NewExecutor(&command.Config{
		Backend: store,
		Kinds:   kinds,
		Clock:   clk.Now,
		Hub:     hub,
	})
	require.NoError(t, err)
	return &testEnv{cmds: cmds, hub: hub, clk: clk}
}

func (e *testEnv) addJob(t *testing.T, j *jobs.Job) api.JobID {
	t.Helper()
	id, err := command.Run(e.cmds, context.Background(), "AddJob",
		func(c *command.Context) (api.JobID, error) {
			if err := c.Session.Insert(c.Context, j); err != nil {
				return "", err
			}
			c.Publish(&events.Event{
				Type:      events.JobCreated,
				Job:       api.JobID(j.ID()),
				Execution: j.ExecutionID,
				Process:   j.ProcessID,
			})
			return api.JobID(j.ID()), nil
		})
	require.NoError(t, err)
	return id
}

func (e *testEnv) findJob(t *testing.T, id api.JobID) (*jobs.Job, error) {
	t.Helper()
	return command.Run(e.cmds, context.Background(), "FindJob",
		func(c *command.Context) (*jobs.Job, error) {
			obj, err := c.Session.FindByID(c.Context, jobs.KindJob, string(id))
			if err != nil {
				return nil, err
			}
			return obj.(*jobs.Job), nil
		})
}

func (e *testEnv) acquire(
	t *testing.T, owner string, ttl time.Duration,
) []api.JobID {
	t.Helper()
	ids, err := command.Run(e.cmds, context.Background(), "AcquireJobs",
		jobs.AcquireJobs(owner, ttl, 10))
	require.NoError(t, err)
	return ids
}

func receiveEvent(
	t *testing.T, sub topic.Consumer[*events.Event], typ events.Type,
) *events.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.Receive():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s not received", typ)
			return nil
		}
	}
}

func TestAcquireClaimsDueJob(t *testing.T) {
	env := newEnv(t)
	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	ids := env.acquire(t, "node-a", time.Minute)
	require.Equal(t, []api.JobID{id}, ids)

	j, err := env.findJob(t, id)
	require.NoError(t, err)
	assert.True(t, j.IsLocked())
	assert.Equal(t, "node-a", j.LockOwner)
	assert.True(t, j.LockExpiration.Equal(env.clk.Now().Add(time.Minute)))
}

func TestClaimedJobInvisibleToOtherNodes(t *testing.T) {
	env := newEnv(t)
	env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	first := env.acquire(t, "node-a", time.Minute)
	require.Len(t, first, 1)
	second := env.acquire(t, "node-b", time.Minute)
	assert.Empty(t, second)
}

func TestFutureTimerNotAcquirable(t *testing.T) {
	env := newEnv(t)
	env.addJob(t, jobs.NewTimer(
		"timer-fire", "exec-1", "proc-1", "t1", env.clk.Now().Add(time.Hour),
	))

	assert.Empty(t, env.acquire(t, "node-a", time.Minute))

	env.clk.Advance(time.Hour + time.Second)
	assert.Len(t, env.acquire(t, "node-a", time.Minute), 1)
}

func TestExpiredClaimIsReacquirable(t *testing.T) {
	env := newEnv(t)
	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)
	assert.Empty(t, env.acquire(t, "node-b", time.Minute))

	env.clk.Advance(2 * time.Minute)
	stolen := env.acquire(t, "node-b", time.Minute)
	require.Equal(t, []api.JobID{id}, stolen)

	j, err := env.findJob(t, id)
	require.NoError(t, err)
	assert.Equal(t, "node-b", j.LockOwner)
}

func TestExecuteJobRunsHandlerAndDeletes(t *testing.T) {
	env := newEnv(t)
	handlers := jobs.NewHandlers()
	var gotPayload string
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, job *jobs.Job) error {
			gotPayload = job.Payload
			return nil
		}))

	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", `{"act":"ship"}`, env.clk.Now(),
	))
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	sub := env.hub.Subscribe()
	defer sub.Close()

	ok, err := command.Run(env.cmds, context.Background(), "ExecuteJob",
		jobs.ExecuteJob(id, "node-a", handlers))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"act":"ship"}`, gotPayload)

	_, err = env.findJob(t, id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	ev := receiveEvent(t, sub, events.JobExecuted)
	assert.Equal(t, id, ev.Job)
}

func TestExecuteMissingJobIsNotAnError(t *testing.T) {
	env := newEnv(t)
	ok, err := command.Run(env.cmds, context.Background(), "ExecuteJob",
		jobs.ExecuteJob("42", "node-a", jobs.NewHandlers()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteJobClaimedByOther(t *testing.T) {
	env := newEnv(t)
	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	_, err := command.Run(env.cmds, context.Background(), "ExecuteJob",
		jobs.ExecuteJob(id, "node-b", jobs.NewHandlers()))
	assert.ErrorIs(t, err, jobs.ErrJobClaimed)
}

func TestExecuteJobWithoutHandler(t *testing.T) {
	env := newEnv(t)
	id := env.addJob(t, jobs.NewMessage(
		"unknown", "exec-1", "proc-1", "", env.clk.Now(),
	))
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	_, err := command.Run(env.cmds, context.Background(), "ExecuteJob",
		jobs.ExecuteJob(id, "node-a", jobs.NewHandlers()))
	assert.ErrorIs(t, err, jobs.ErrNoHandler)
}

func TestHandlerFailureKeepsJob(t *testing.T) {
	env := newEnv(t)
	handlers := jobs.NewHandlers()
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, _ *jobs.Job) error {
			return errors.New("script blew up")
		}))

	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	_, err := command.Run(env.cmds, context.Background(), "ExecuteJob",
		jobs.ExecuteJob(id, "node-a", handlers))
	require.Error(t, err)

	j, findErr := env.findJob(t, id)
	require.NoError(t, findErr)
	assert.Equal(t, jobs.DefaultRetries, j.Retries)
}

func TestFailJobReleasesClaim(t *testing.T) {
	env := newEnv(t)
	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	sub := env.hub.Subscribe()
	defer sub.Close()

	j, err := command.Run(env.cmds, context.Background(), "FailJob",
		jobs.FailJob(id, errors.New("boom")))
	require.NoError(t, err)
	assert.Equal(t, jobs.DefaultRetries-1, j.Retries)
	assert.False(t, j.IsLocked())
	assert.False(t, j.IsDeadLettered())

	ev := receiveEvent(t, sub, events.JobFailed)
	assert.Equal(t, "boom", ev.Error)

	// the released job is immediately up for grabs again
	assert.Equal(t, []api.JobID{id}, env.acquire(t, "node-b", time.Minute))
}

func TestFailJobMovesToDeadLetter(t *testing.T) {
	env := newEnv(t)
	msg := jobs.NewMessage("continue", "exec-1", "proc-1", "", env.clk.Now())
	msg.Retries = 1
	id := env.addJob(t, msg)
	require.Len(t, env.acquire(t, "node-a", time.Minute), 1)

	sub := env.hub.Subscribe()
	defer sub.Close()

	j, err := command.Run(env.cmds, context.Background(), "FailJob",
		jobs.FailJob(id, errors.New("boom")))
	require.NoError(t, err)
	assert.True(t, j.IsDeadLettered())

	ev := receiveEvent(t, sub, events.JobDeadLettered)
	assert.Equal(t, id, ev.Job)

	dead, err := command.Run(env.cmds, context.Background(),
		"FindDeadLetterJobs", jobs.FindDeadLetterJobs())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, string(id), dead[0].ID())

	// dead-lettered jobs never come due
	assert.Empty(t, env.acquire(t, "node-b", time.Minute))
}

func TestFailMissingJob(t *testing.T) {
	env := newEnv(t)
	_, err := command.Run(env.cmds, context.Background(), "FailJob",
		jobs.FailJob("42", errors.New("boom")))
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestNextAvailableTime(t *testing.T) {
	env := newEnv(t)

	next, err := command.Run(env.cmds, context.Background(),
		"NextAvailableTime", jobs.NextAvailableTime())
	require.NoError(t, err)
	assert.True(t, next.IsZero())

	due := env.clk.Now().Add(30 * time.Minute)
	env.addJob(t, jobs.NewTimer("timer-fire", "exec-1", "proc-1", "t1", due))

	next, err = command.Run(env.cmds, context.Background(),
		"NextAvailableTime", jobs.NextAvailableTime())
	require.NoError(t, err)
	assert.True(t, due.Equal(next))
}

func TestFindJobsByProcessAndExecution(t *testing.T) {
	env := newEnv(t)
	env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))
	env.addJob(t, jobs.NewTimer(
		"timer-fire", "exec-2", "proc-1", "t1", env.clk.Now().Add(time.Hour),
	))
	env.addJob(t, jobs.NewMessage(
		"continue", "exec-3", "proc-2", "", env.clk.Now(),
	))

	byProc, err := command.Run(env.cmds, context.Background(),
		"FindJobsByProcess", jobs.FindJobsByProcess("proc-1"))
	require.NoError(t, err)
	assert.Len(t, byProc, 2)

	byExec, err := command.Run(env.cmds, context.Background(),
		"FindJobsByExecution", jobs.FindJobsByExecution("exec-2"))
	require.NoError(t, err)
	require.Len(t, byExec, 1)
	assert.Equal(t, "t1", byExec[0].TimerID)
	assert.True(t, byExec[0].IsTimer)
}
