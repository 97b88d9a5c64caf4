package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/internal/assert/helpers"
	"github.com/kode4food/paisley/pkg/api"
	"github.com/kode4food/paisley/pkg/builder"
)

// asyncOrderSpec parks its computation behind a continuation job, so
// completing the process requires a job executor to pick it up
func asyncOrderSpec(t *testing.T) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("async-order").
		Add(
			builder.Start("begin").To("compute"),
			builder.Script("compute", "return vars.price * vars.qty").
				WithResult("total").
				Async().
				To("done"),
			builder.End("done"),
		).
		Build()
	require.NoError(t, err)
	return spec
}

func TestAsyncContinuationCompletes(t *testing.T) {
	helpers.WithStartedNode(t, func(env *helpers.TestEnv) {
		as := assert.New(t)
		ctx := context.Background()

		deploySpecs(t, env, asyncOrderSpec(t))

		root, err := env.Engine.StartProcessInstanceByKey(
			ctx, "async-order", api.Variables{"price": 3.0, "qty": 7.0},
		)
		as.NoError(err)
		procID := api.ProcessInstanceID(root.ID())

		require.Eventually(t, func() bool {
			trail, err := env.History.Trail(ctx, procID)
			return err == nil && trail.Ended
		}, waitTimeout, 10*time.Millisecond)

		trail, err := env.History.Trail(ctx, procID)
		as.NoError(err)
		as.Equal(21.0, trail.Variables["total"])
	})
}

func TestTwoNodesShareTheLoad(t *testing.T) {
	helpers.WithStartedNode(t, func(env *helpers.TestEnv) {
		as := assert.New(t)
		ctx := context.Background()

		second := env.NewExecutorNode(t)
		second.Start()
		defer func() { _ = second.Stop(waitTimeout) }()
		as.NotEqual(env.Jobs.LockOwner(), second.LockOwner())

		deploySpecs(t, env, asyncOrderSpec(t))

		const instances = 5
		ids := make([]api.ProcessInstanceID, instances)
		for i := range instances {
			root, err := env.Engine.StartProcessInstanceByKey(
				ctx, "async-order",
				api.Variables{"price": 2.0, "qty": float64(i + 1)},
			)
			as.NoError(err)
			ids[i] = api.ProcessInstanceID(root.ID())
		}

		for i, id := range ids {
			require.Eventually(t, func() bool {
				trail, err := env.History.Trail(ctx, id)
				return err == nil && trail.Ended
			}, waitTimeout, 10*time.Millisecond)

			trail, err := env.History.Trail(ctx, id)
			as.NoError(err)
			as.Equal(2.0*float64(i+1), trail.Variables["total"])
		}
	})
}
