package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/api"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobClaimed  = errors.New("job claimed by another owner")
)

// AcquireJobs claims up to max due jobs for the given owner. The claim is
// written through the unit of work, so a node that loses the revision
// race re-runs the command and no longer sees the contested jobs
func AcquireJobs(
	owner string, lockTTL time.Duration, max int,
) command.Command[[]api.JobID] {
	return func(c *command.Context) ([]api.JobID, error) {
		now := c.Now()
		list, err := c.Session.FindList(c.Context, persistence.Query{
			Kind:    KindJob,
			Index:   IndexDue,
			ByScore: true,
			Until:   now,
			Limit:   max,
		})
		if err != nil {
			return nil, err
		}
		res := make([]api.JobID, 0, len(list))
		for _, obj := range list {
			j := obj.(*Job)
			j.LockOwner = owner
			j.LockExpiration = now.Add(lockTTL)
			res = append(res, api.JobID(j.ID()))
		}
		return res, nil
	}
}

// ExecuteJob runs a claimed job through its handler and deletes it on
// success. A job that has vanished was completed elsewhere and is not an
// error; a job claimed by a different owner is skipped
func ExecuteJob(
	id api.JobID, owner string, handlers *Handlers,
) command.Command[bool] {
	return func(c *command.Context) (bool, error) {
		obj, err := c.Session.FindByID(c.Context, KindJob, string(id))
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		j := obj.(*Job)
		if j.LockOwner != owner {
			return false, fmt.Errorf("%w: %s", ErrJobClaimed, id)
		}
		handler, err := handlers.Get(j.Type)
		if err != nil {
			return false, err
		}
		if err := handler.Execute(c, j); err != nil {
			return false, err
		}
		c.Session.Delete(j)
		c.Publish(&events.Event{
			Type:      events.JobExecuted,
			Job:       id,
			Execution: j.ExecutionID,
			Process:   j.ProcessID,
		})
		return true, nil
	}
}

// FailJob records a failed attempt: the retry count drops, the claim is
// released, and a job out of retries moves to the dead-letter index. The
// returned job is the post-failure snapshot, dead-lettered or not
func FailJob(id api.JobID, cause error) command.Command[*Job] {
	return func(c *command.Context) (*Job, error) {
		obj, err := c.Session.FindByID(c.Context, KindJob, string(id))
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
			}
			return nil, err
		}
		j := obj.(*Job)
		j.Retries--
		j.LockOwner = ""
		j.LockExpiration = time.Time{}

		ev := &events.Event{
			Job:       id,
			Execution: j.ExecutionID,
			Process:   j.ProcessID,
		}
		if cause != nil {
			ev.Error = cause.Error()
		}
		if j.IsDeadLettered() {
			ev.Type = events.JobDeadLettered
		} else {
			ev.Type = events.JobFailed
		}
		c.Publish(ev)
		return j, nil
	}
}

// NextAvailableTime returns the earliest moment any pending job becomes
// acquirable
func NextAvailableTime() command.Command[time.Time] {
	return func(c *command.Context) (time.Time, error) {
		list, err := c.Session.FindList(c.Context, persistence.Query{
			Kind:    KindJob,
			Index:   IndexDue,
			ByScore: true,
			Limit:   1,
		})
		if err != nil {
			return time.Time{}, err
		}
		if len(list) == 0 {
			return time.Time{}, nil
		}
		return list[0].(*Job).AvailableAt(), nil
	}
}

// FindDeadLetterJobs returns the jobs that have exhausted their retries
func FindDeadLetterJobs() command.Command[[]*Job] {
	return findJobs(persistence.Query{
		Kind:  KindJob,
		Index: IndexDeadLetter,
		Value: deadLetterValue,
	})
}

// FindJobsByProcess returns all jobs belonging to a process instance
func FindJobsByProcess(id api.ProcessInstanceID) command.Command[[]*Job] {
	return findJobs(persistence.Query{
		Kind:  KindJob,
		Index: IndexProcess,
		Value: string(id),
	})
}

// FindJobsByExecution returns all jobs belonging to an execution
func FindJobsByExecution(id api.ExecutionID) command.Command[[]*Job] {
	return findJobs(persistence.Query{
		Kind:  KindJob,
		Index: IndexExecution,
		Value: string(id),
	})
}

func findJobs(q persistence.Query) command.Command[[]*Job] {
	return func(c *command.Context) ([]*Job, error) {
		list, err := c.Session.FindList(c.Context, q)
		if err != nil {
			return nil, err
		}
		res := make([]*Job, len(list))
		for i, obj := range list {
			res[i] = obj.(*Job)
		}
		return res, nil
	}
}
