// Package jobs implements background work: timers and asynchronous
// continuations. Jobs are persistent objects claimed by competing
// executor nodes through revision-checked lock updates, so a job is only
// ever run by one node at a time
package jobs

import (
	"time"

	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/api"
)

// Job is a unit of background work. Timer jobs become due at their due
// date; message jobs are due immediately. A claimed job carries its
// owner and the time the claim lapses
type Job struct {
	persistence.Record
	DueDate        time.Time             `json:"due_date"`
	LockExpiration time.Time             `json:"lock_expiration,omitempty"`
	Type           string                `json:"type"`
	Payload        string                `json:"payload,omitempty"`
	LockOwner      string                `json:"lock_owner,omitempty"`
	TimerID        string                `json:"timer_id,omitempty"`
	ExecutionID    api.ExecutionID       `json:"execution,omitempty"`
	ProcessID      api.ProcessInstanceID `json:"process,omitempty"`
	Retries        int                   `json:"retries"`
	IsTimer        bool                  `json:"is_timer,omitempty"`
}

const (
	// KindJob is the persistence kind for jobs
	KindJob = persistence.Kind("job")

	// DefaultRetries is the number of attempts before dead-lettering
	DefaultRetries = 3
)

// Index names used by acquisition and management queries
const (
	IndexDue        = "due"
	IndexExecution  = "execution"
	IndexProcess    = "process"
	IndexDeadLetter = "deadletter"

	deadLetterValue = "true"
)

func (*Job) Kind() persistence.Kind { return KindJob }

func (j *Job) State() any {
	state := *j
	return state
}

// IsLocked reports whether the job currently carries a claim
func (j *Job) IsLocked() bool {
	return j.LockOwner != ""
}

// IsDeadLettered reports whether the job has exhausted its retries
func (j *Job) IsDeadLettered() bool {
	return j.Retries <= 0
}

// AvailableAt returns the time at which the job becomes acquirable: its
// due date while unlocked, or the lapse of the current claim
func (j *Job) AvailableAt() time.Time {
	if j.IsLocked() && j.LockExpiration.After(j.DueDate) {
		return j.LockExpiration
	}
	return j.DueDate
}

// NewMessage creates a job that is due immediately
func NewMessage(
	typ string, exec api.ExecutionID, proc api.ProcessInstanceID,
	payload string, now time.Time,
) *Job {
	return &Job{
		Type:        typ,
		ExecutionID: exec,
		ProcessID:   proc,
		Payload:     payload,
		DueDate:     now,
		Retries:     DefaultRetries,
	}
}

// NewTimer creates a timer job that becomes due at the given time
func NewTimer(
	typ string, exec api.ExecutionID, proc api.ProcessInstanceID,
	timerID string, due time.Time,
) *Job {
	return &Job{
		Type:        typ,
		ExecutionID: exec,
		ProcessID:   proc,
		TimerID:     timerID,
		DueDate:     due,
		Retries:     DefaultRetries,
		IsTimer:     true,
	}
}

// RegisterKinds adds the job kind to a persistence registry
func RegisterKinds(kinds persistence.Registry) {
	kinds.Register(&persistence.KindInfo{
		Kind:    KindJob,
		New:     func() persistence.PersistentObject { return &Job{} },
		Indexes: jobIndexes,
	})
}

func jobIndexes(obj persistence.PersistentObject) []persistence.Index {
	j := obj.(*Job)
	res := []persistence.Index{
		{Name: IndexProcess, Value: string(j.ProcessID)},
		{Name: IndexExecution, Value: string(j.ExecutionID)},
	}
	if j.IsDeadLettered() {
		return append(res, persistence.Index{
			Name:  IndexDeadLetter,
			Value: deadLetterValue,
		})
	}
	return append(res, persistence.Index{
		Name:   IndexDue,
		Ranked: true,
		Score:  float64(j.AvailableAt().UnixMilli()),
	})
}
