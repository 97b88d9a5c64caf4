package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/paisley/internal/assert/helpers"
	"github.com/kode4food/paisley/internal/engine"
	"github.com/kode4food/paisley/pkg/api"
)

func TestTimerEscalation(t *testing.T) {
	helpers.WithStartedNode(t, func(env *helpers.TestEnv) {
		as := assert.New(t)
		ctx := context.Background()

		deploySpecs(t, env, helpers.EscalationSpec(t, time.Hour))

		root, err := env.Engine.StartProcessInstanceByKey(
			ctx, "escalation", nil,
		)
		as.NoError(err)
		procID := api.ProcessInstanceID(root.ID())

		// the timer is not due yet, so the instance stays parked
		time.Sleep(5 * helpers.TestAcquireWait)
		waiting, err := env.Engine.FindProcessInstance(ctx, procID)
		as.NoError(err)
		as.Equal(api.ActivityID("wait"), waiting.ActivityID)

		escalated := env.ExpectActivityStarted(procID, "escalated")
		done := env.ExpectProcessEnded(procID)
		env.Clock.Advance(time.Hour + time.Second)

		escalated.Wait(t, waitTimeout)
		done.Wait(t, waitTimeout)
	})
}

func TestTimerCancelledBySignal(t *testing.T) {
	helpers.WithStartedNode(t, func(env *helpers.TestEnv) {
		as := assert.New(t)
		ctx := context.Background()

		deploySpecs(t, env, helpers.EscalationSpec(t, time.Hour))

		root, err := env.Engine.StartProcessInstanceByKey(
			ctx, "escalation", nil,
		)
		as.NoError(err)
		procID := api.ProcessInstanceID(root.ID())

		done := env.ExpectProcessEnded(procID)
		as.NoError(env.Engine.Signal(
			ctx, api.ExecutionID(root.ID()), "reply", nil,
		))
		ev := done.Wait(t, waitTimeout)
		as.Equal(procID, ev.Process)

		// the scope timer went with the scope; advancing past it must
		// not resurrect anything
		env.Clock.Advance(2 * time.Hour)
		time.Sleep(5 * helpers.TestAcquireWait)
		_, err = env.Engine.FindProcessInstance(ctx, procID)
		as.ErrorIs(err, engine.ErrExecutionNotFound)
	})
}
