package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "gocloud.dev/blob/memblob"

	"github.com/kode4food/paisley/internal/archive"
	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
)

func TestExecutorRunsMessageJob(t *testing.T) {
	env := newEnv(t)
	handlers := jobs.NewHandlers()
	done := make(chan string, 1)
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, job *jobs.Job) error {
			done <- job.Payload
			return nil
		}))

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: handlers,
		Hub:      env.hub,
		Wait:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	exec.Start()
	defer func() { _ = exec.Stop(time.Second) }()

	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", `{"act":"ship"}`, env.clk.Now(),
	))

	select {
	case payload := <-done:
		assert.Equal(t, `{"act":"ship"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not executed")
	}

	require.Eventually(t, func() bool {
		_, err := env.findJob(t, id)
		return errors.Is(err, persistence.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutorWakesOnNewJob(t *testing.T) {
	env := newEnv(t)
	handlers := jobs.NewHandlers()
	done := make(chan struct{}, 1)
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, _ *jobs.Job) error {
			done <- struct{}{}
			return nil
		}))

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: handlers,
		Hub:      env.hub,
		Wait:     time.Minute,
	})
	require.NoError(t, err)
	exec.Start()
	defer func() { _ = exec.Stop(time.Second) }()

	// let the acquisition loop settle into its idle wait
	time.Sleep(100 * time.Millisecond)
	env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not wake for the new job")
	}
}

func TestExecutorDeadLettersAfterRetries(t *testing.T) {
	env := newEnv(t)
	store, err := archive.Open(context.Background(), "mem://", "test/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var attempts atomic.Int32
	handlers := jobs.NewHandlers()
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, _ *jobs.Job) error {
			attempts.Add(1)
			return errors.New("script blew up")
		}))

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: handlers,
		Hub:      env.hub,
		Archive:  store,
		Wait:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	exec.Start()
	defer func() { _ = exec.Stop(time.Second) }()

	id := env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	require.Eventually(t, func() bool {
		dead, err := command.Run(env.cmds, context.Background(),
			"FindDeadLetterJobs", jobs.FindDeadLetterJobs())
		return err == nil && len(dead) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(jobs.DefaultRetries), attempts.Load())

	// the archive write happens after the dead-letter flush lands
	var dump []byte
	require.Eventually(t, func() bool {
		var err error
		dump, err = store.GetDeadLetter(context.Background(), id)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(dump), "script blew up")
}

func TestExecutorStopIsIdempotent(t *testing.T) {
	env := newEnv(t)
	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: jobs.NewHandlers(),
		Wait:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	exec.Start()

	require.NoError(t, exec.Stop(time.Second))
	require.NoError(t, exec.Stop(time.Second))
}

func TestExecutorConfigValidation(t *testing.T) {
	_, err := jobs.NewExecutor(&jobs.Config{Handlers: jobs.NewHandlers()})
	assert.ErrorIs(t, err, jobs.ErrCommandsRequired)

	env := newEnv(t)
	_, err = jobs.NewExecutor(&jobs.Config{Commands: env.cmds})
	assert.ErrorIs(t, err, jobs.ErrHandlersRequired)

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: jobs.NewHandlers(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, exec.LockOwner())
}

func TestExecutorStartAfterStopRefused(t *testing.T) {
	env := newEnv(t)
	handlers := jobs.NewHandlers()
	ran := make(chan struct{}, 1)
	handlers.Register("continue", jobs.HandlerFunc(
		func(_ *command.Context, _ *jobs.Job) error {
			ran <- struct{}{}
			return nil
		}))

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.cmds,
		Handlers: handlers,
		Hub:      env.hub,
		Wait:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, exec.Stop(time.Second))

	// a stopped node never acquires, even if started afterwards
	exec.Start()
	env.addJob(t, jobs.NewMessage(
		"continue", "exec-1", "proc-1", "", env.clk.Now(),
	))

	select {
	case <-ran:
		t.Fatal("stopped executor acquired a job")
	case <-time.After(200 * time.Millisecond):
	}
}
