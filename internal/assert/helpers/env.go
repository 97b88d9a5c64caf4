package helpers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/memblob"

	"github.com/kode4food/paisley/internal/archive"
	"github.com/kode4food/paisley/internal/config"
	"github.com/kode4food/paisley/internal/engine"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/history"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/internal/persistence/redisstore"
)

// TestEnv holds a complete node wired against in-memory backends: the
// engine, a job executor, the audit trail, and the artifact archive all
// share one miniredis and one manually advanced clock
type TestEnv struct {
	Engine   *engine.Engine
	Jobs     *jobs.Executor
	History  *history.Store
	Recorder *history.Recorder
	Archive  *archive.Store
	Hub      *events.Hub
	Clock    *Clock
	Redis    *miniredis.Miniredis
	Cleanup  func()
}

const (
	// TestAcquireWait keeps executor polling tight so clock advances are
	// noticed quickly
	TestAcquireWait = 20 * time.Millisecond

	shutdownTimeout = 5 * time.Second
)

// NewTestEnv creates a fully wired node over miniredis. The job
// executor is created but not started; call StartNode or start it
// directly
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	server := miniredis.RunT(t)
	ctx := context.Background()
	clk := NewClock()
	hub := events.NewHub()

	kinds := persistence.Registry{}
	engine.RegisterKinds(kinds)
	jobs.RegisterKinds(kinds)

	backend, err := redisstore.Open(ctx, &redisstore.Config{
		Addr:   server.Addr(),
		Prefix: "test-engine",
	}, kinds)
	require.NoError(t, err)

	store, err := archive.Open(ctx, "mem://", "test/")
	require.NoError(t, err)

	eng, err := engine.New(&engine.Config{
		Backend: backend,
		Kinds:   kinds,
		Clock:   clk.Now,
		Hub:     hub,
		Archive: store,
	})
	require.NoError(t, err)

	historyConfig := config.NewDefaultConfig().HistoryStore
	historyConfig.Addr = server.Addr()
	historyConfig.Prefix = "test-history"
	trail, err := history.NewStore(historyConfig)
	require.NoError(t, err)

	recorder := history.NewRecorder(trail, hub, slog.Default())

	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: eng.Commands(),
		Handlers: eng.Handlers(),
		Hub:      hub,
		Archive:  store,
		Wait:     TestAcquireWait,
	})
	require.NoError(t, err)

	env := &TestEnv{
		Engine:   eng,
		Jobs:     exec,
		History:  trail,
		Recorder: recorder,
		Archive:  store,
		Hub:      hub,
		Clock:    clk,
		Redis:    server,
	}
	env.Cleanup = func() {
		_ = exec.Stop(shutdownTimeout)
		hub.Close()
		recorder.Stop()
		_ = trail.Close()
		_ = store.Close()
	}
	return env
}

// StartNode starts the job executor and history recorder
func (env *TestEnv) StartNode() {
	env.Recorder.Start()
	env.Jobs.Start()
}

// NewExecutorNode creates an additional job executor competing for the
// same jobs, simulating a second cluster node. The caller owns its
// lifecycle
func (env *TestEnv) NewExecutorNode(t *testing.T) *jobs.Executor {
	t.Helper()
	exec, err := jobs.NewExecutor(&jobs.Config{
		Commands: env.Engine.Commands(),
		Handlers: env.Engine.Handlers(),
		Hub:      env.Hub,
		Archive:  env.Archive,
		Wait:     TestAcquireWait,
	})
	require.NoError(t, err)
	return exec
}

// WithTestEnv creates a test environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEnv)) {
	t.Helper()
	env := NewTestEnv(t)
	defer env.Cleanup()
	fn(env)
}

// WithStartedNode creates a test environment with the executor and
// recorder running
func WithStartedNode(t *testing.T, fn func(*TestEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEnv) {
		env.StartNode()
		fn(env)
	})
}
