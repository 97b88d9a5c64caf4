package engine

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/pkg/api"
	"github.com/kode4food/paisley/pkg/log"
)

// Job types the engine registers handlers for
const (
	HandlerAsyncContinue = "async-continue"
	HandlerTimerFire     = "timer-fire"
)

// continuationPayload pins an async message to the activity it was
// created for
type continuationPayload struct {
	Activity string `json:"activity"`
}

func (e *Engine) registerHandlers() {
	e.handlers.Register(HandlerAsyncContinue,
		jobs.HandlerFunc(e.continueAsync))
	e.handlers.Register(HandlerTimerFire, jobs.HandlerFunc(e.fireTimer))
}

// continueAsync picks an execution back up at the activity its message
// was created for. A vanished execution or one that has since moved on
// makes the message a no-op
func (e *Engine) continueAsync(c *command.Context, job *jobs.Job) error {
	exec, err := e.execByID(c, job.ExecutionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil
		}
		return err
	}
	activity := gjson.Get(job.Payload, "activity").String()
	if activity != string(exec.ActivityID) {
		e.log.Debug("Dropping stale continuation",
			log.ExecutionID(job.ExecutionID),
			log.ActivityID(api.ActivityID(activity)))
		return nil
	}
	def, err := e.defs.byID(c, exec.DefinitionID)
	if err != nil {
		return err
	}
	act, err := def.activity(exec.ActivityID)
	if err != nil {
		return err
	}
	return e.runBehavior(c, def, exec, act)
}

// fireTimer signals the scope execution that declared the timer, naming
// the timer so a matching transition can be taken
func (e *Engine) fireTimer(c *command.Context, job *jobs.Job) error {
	exec, err := e.execByID(c, job.ExecutionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil
		}
		return err
	}
	return e.signal(c, exec, job.TimerID, nil)
}
