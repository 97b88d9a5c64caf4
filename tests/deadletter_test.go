package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/internal/assert/helpers"
	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/pkg/api"
)

func TestDeadLetterAfterRetries(t *testing.T) {
	helpers.WithStartedNode(t, func(env *helpers.TestEnv) {
		as := assert.New(t)
		ctx := context.Background()

		deploySpecs(t, env, helpers.BrokenSpec(t))

		dead := env.ExpectEvent(events.JobDeadLettered)
		root, err := env.Engine.StartProcessInstanceByKey(
			ctx, "broken", nil,
		)
		as.NoError(err)
		procID := api.ProcessInstanceID(root.ID())

		ev := dead.Wait(t, waitTimeout)
		as.Equal(procID, ev.Process)
		jobID := ev.Job

		// the instance is still parked at the failing activity
		parked, err := env.Engine.FindProcessInstance(ctx, procID)
		as.NoError(err)
		as.Equal(api.ActivityID("work"), parked.ActivityID)

		list, err := command.Run(env.Engine.Commands(), ctx,
			"FindDeadLetterJobs", jobs.FindDeadLetterJobs())
		as.NoError(err)
		as.Len(list, 1)
		as.Equal(jobID, api.JobID(list[0].ID()))
		as.Zero(list[0].Retries)

		// the dump lands in the archive after the failure flushes
		require.Eventually(t, func() bool {
			data, err := env.Archive.GetDeadLetter(ctx, jobID)
			return err == nil && len(data) > 0
		}, waitTimeout, 10*time.Millisecond)
		data, err := env.Archive.GetDeadLetter(ctx, jobID)
		as.NoError(err)
		as.Contains(string(data), "work exploded")

		require.Eventually(t, func() bool {
			trail, err := env.History.Trail(ctx, procID)
			return err == nil && len(trail.DeadLetters) == 1
		}, waitTimeout, 10*time.Millisecond)
	})
}
