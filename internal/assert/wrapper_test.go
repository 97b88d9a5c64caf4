package assert_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kode4food/paisley/internal/assert"
	"github.com/kode4food/paisley/internal/config"
	"github.com/kode4food/paisley/pkg/api"
	"github.com/kode4food/paisley/pkg/builder"
)

type stubGetter map[api.VariableName]any

func (g stubGetter) GetVariable(
	_ context.Context, _ api.ExecutionID, name api.VariableName,
) (any, error) {
	val, ok := g[name]
	if !ok {
		return nil, errors.New("no such variable")
	}
	return val, nil
}

func TestSpecAssertions(t *testing.T) {
	as := assert.New(t)

	spec, err := builder.NewProcess("order").
		Add(
			builder.Start("begin").To("done"),
			builder.End("done"),
		).
		Build()
	as.NoError(err)
	as.SpecValid(spec)

	broken := &api.ProcessSpec{
		Key:     "broken",
		Initial: "begin",
		Activities: map[api.ActivityID]*api.ActivitySpec{
			"begin": {
				ID:   "begin",
				Type: api.ActivityStart,
				Transitions: []*api.TransitionSpec{
					{To: "missing"},
				},
			},
		},
	}
	as.SpecInvalid(broken, api.ErrTransitionTarget)
}

func TestVariableAssertions(t *testing.T) {
	as := assert.New(t)

	get := stubGetter{"amount": 250.0, "approved": true}
	ctx := context.Background()
	as.VariableEquals(ctx, get, "exec-1", "amount", 250.0)
	as.HasVariables(ctx, get, "exec-1", "amount", "approved")
}

func TestConfigAssertions(t *testing.T) {
	as := assert.New(t)

	as.ConfigValid(config.NewDefaultConfig())

	cfg := config.NewDefaultConfig()
	cfg.Jobs.Workers = 0
	as.ConfigInvalid(cfg, config.ErrInvalidWorkers)
}

func TestEventually(t *testing.T) {
	as := assert.New(t)

	calls := 0
	as.Eventually(func() bool {
		calls++
		return calls >= 2
	}, time.Second, "condition never held")

	attempts := 0
	as.EventuallyWithError(func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	}, time.Second, "condition never succeeded")
}
