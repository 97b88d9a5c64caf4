package assert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/paisley/internal/config"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// VariableGetter resolves a variable visible from an execution
	VariableGetter interface {
		GetVariable(
			ctx context.Context, id api.ExecutionID, name api.VariableName,
		) (any, error)
	}

	// Wrapper wraps testify assertions with engine-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually
// checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// SpecValid asserts that a process spec is structurally sound
func (w *Wrapper) SpecValid(spec *api.ProcessSpec) {
	w.Helper()
	w.NoError(spec.Validate())
	w.NotEmpty(spec.Key)
	w.NotEmpty(spec.Initial)
	w.Contains(spec.Activities, spec.Initial)
}

// SpecInvalid asserts that a process spec fails validation with the
// expected error
func (w *Wrapper) SpecInvalid(spec *api.ProcessSpec, expected error) error {
	w.Helper()
	err := spec.Validate()
	w.Error(err)
	if expected != nil {
		w.ErrorIs(err, expected)
	}
	return err
}

// VariableEquals asserts that a variable resolves to the expected value
func (w *Wrapper) VariableEquals(
	ctx context.Context, get VariableGetter, id api.ExecutionID,
	name api.VariableName, expected any,
) {
	w.Helper()
	val, err := get.GetVariable(ctx, id, name)
	w.NoError(err, "failed to get variable: %s", name)
	w.Equal(expected, val)
}

// HasVariables asserts that every named variable resolves
func (w *Wrapper) HasVariables(
	ctx context.Context, get VariableGetter, id api.ExecutionID,
	names ...api.VariableName,
) {
	w.Helper()
	for _, name := range names {
		_, err := get.GetVariable(ctx, id, name)
		w.NoError(err, "execution should see variable: %s", name)
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.Jobs.Workers > 0)
	w.True(cfg.Jobs.LockTTL > 0)
}

// ConfigInvalid asserts that a configuration fails validation
func (w *Wrapper) ConfigInvalid(cfg *config.Config, expected error) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if expected != nil {
		w.ErrorIs(err, expected)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it
// succeeds or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
