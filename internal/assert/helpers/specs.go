package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kode4food/paisley/pkg/api"
	"github.com/kode4food/paisley/pkg/builder"
)

// OrderSpec is a linear process with a script task computing a total
func OrderSpec(t *testing.T) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("order").
		Add(
			builder.Start("begin").To("compute"),
			builder.Script("compute", "return vars.price * vars.qty").
				WithResult("total").
				To("done"),
			builder.End("done"),
		).
		Build()
	require.NoError(t, err)
	return spec
}

// ApprovalSpec is a process that waits for an external approval signal
func ApprovalSpec(t *testing.T) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("approval").
		Add(
			builder.Start("begin").To("review"),
			builder.Receive("review").To("done"),
			builder.End("done"),
		).
		Build()
	require.NoError(t, err)
	return spec
}

// ParallelSpec forks into two waiting branches that converge on a join
func ParallelSpec(t *testing.T) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("parallel").
		Add(
			builder.Start("begin").To("split"),
			builder.Fork("split").To("left").To("right"),
			builder.Receive("left").To("merge"),
			builder.Receive("right").To("merge"),
			builder.Join("merge").To("done"),
			builder.End("done"),
		).
		Build()
	require.NoError(t, err)
	return spec
}

// EscalationSpec waits for a reply but escalates when a scope timer
// fires first
func EscalationSpec(t *testing.T, after time.Duration) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("escalation").
		Add(
			builder.Start("begin").To("wait"),
			builder.Receive("wait").
				WithTimer("timeout", after).
				To("done").
				ToNamed("timeout", "escalated"),
			builder.End("done"),
			builder.End("escalated"),
		).
		Build()
	require.NoError(t, err)
	return spec
}

// BrokenSpec parks an always-failing script behind an async job, so its
// continuation exhausts retries and dead-letters
func BrokenSpec(t *testing.T) *api.ProcessSpec {
	t.Helper()
	spec, err := builder.NewProcess("broken").
		Add(
			builder.Start("begin").To("work"),
			builder.Script("work", "error('work exploded')").
				Async().
				To("done"),
			builder.End("done"),
		).
		Build()
	require.NoError(t, err)
	return spec
}
