package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/api"
)

var (
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionNotActive = errors.New("execution is not active")
)

func (e *Engine) execByID(
	c *command.Context, id api.ExecutionID,
) (*Execution, error) {
	obj, err := c.Session.FindByID(c.Context, KindExecution, string(id))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, err
	}
	return obj.(*Execution), nil
}

func (e *Engine) childrenOf(
	c *command.Context, parent *Execution,
) ([]*Execution, error) {
	list, err := c.Session.FindList(c.Context, persistence.Query{
		Kind:  KindExecution,
		Index: IndexExecutionOwner,
		Value: parent.ID(),
	})
	if err != nil {
		return nil, err
	}
	res := make([]*Execution, len(list))
	for i, obj := range list {
		res[i] = obj.(*Execution)
	}
	return res, nil
}

// startInstance creates the root execution and drives it into the
// initial activity
func (e *Engine) startInstance(
	c *command.Context, def *ProcessDefinition, vars api.Variables,
) (*Execution, error) {
	root := &Execution{
		DefinitionID: api.ProcessDefinitionID(def.ID()),
		Variables:    def.Spec.Defaults.Merge(vars),
		IsActive:     true,
		IsScope:      true,
	}
	if err := c.Session.Insert(c.Context, root); err != nil {
		return nil, err
	}
	root.ProcessID = api.ProcessInstanceID(root.ID())
	c.Publish(&events.Event{
		Type:       events.ProcessStarted,
		Definition: root.DefinitionID,
		Process:    root.ProcessID,
		Execution:  api.ExecutionID(root.ID()),
	})
	initial, err := def.activity(def.Spec.Initial)
	if err != nil {
		return nil, err
	}
	if err := e.enter(c, def, root, initial); err != nil {
		return nil, err
	}
	return root, nil
}

// enter moves an execution onto an activity. A scope activity pushes a
// child scope execution and arms its timers; an async activity parks
// behind a continuation job instead of executing inline
func (e *Engine) enter(
	c *command.Context, def *ProcessDefinition,
	exec *Execution, act *api.ActivitySpec,
) error {
	exec.ActivityID = act.ID
	c.Publish(&events.Event{
		Type:      events.ActivityStarted,
		Process:   exec.ProcessID,
		Execution: api.ExecutionID(exec.ID()),
		Activity:  act.ID,
	})

	target := exec
	if act.IsScope {
		scope := &Execution{
			DefinitionID: exec.DefinitionID,
			ProcessID:    exec.ProcessID,
			ParentID:     api.ExecutionID(exec.ID()),
			ActivityID:   act.ID,
			IsActive:     true,
			IsScope:      true,
		}
		if err := c.Session.Insert(c.Context, scope); err != nil {
			return err
		}
		exec.IsActive = false
		if err := e.armTimers(c, scope, act); err != nil {
			return err
		}
		target = scope
	}

	if act.Async {
		return e.parkForContinuation(c, target, act)
	}
	return e.runBehavior(c, def, target, act)
}

func (e *Engine) runBehavior(
	c *command.Context, def *ProcessDefinition,
	exec *Execution, act *api.ActivitySpec,
) error {
	return behaviorFor(act.Type).Execute(&ActivityContext{
		c:    c,
		eng:  e,
		def:  def,
		exec: exec,
		act:  act,
	})
}

// leave evaluates outgoing guards against the variables still visible
// here, then moves on. No satisfied transition ends the execution
func (e *Engine) leave(
	c *command.Context, def *ProcessDefinition,
	exec *Execution, act *api.ActivitySpec,
) error {
	tr, err := e.firstSatisfied(c, exec, act)
	if err != nil {
		return err
	}
	return e.leaveVia(c, def, exec, act, tr)
}

func (e *Engine) leaveVia(
	c *command.Context, def *ProcessDefinition,
	exec *Execution, act *api.ActivitySpec, tr *api.TransitionSpec,
) error {
	// a local scope collapses before the transition is taken
	if exec.IsScope && !exec.IsProcessInstance() {
		parent, err := e.execByID(c, exec.ParentID)
		if err != nil {
			return err
		}
		if err := e.cancelJobs(c, exec); err != nil {
			return err
		}
		c.Session.Delete(exec)
		parent.IsActive = true
		exec = parent
	}

	c.Publish(&events.Event{
		Type:      events.ActivityEnded,
		Process:   exec.ProcessID,
		Execution: api.ExecutionID(exec.ID()),
		Activity:  act.ID,
	})
	if tr == nil {
		return e.end(c, def, exec)
	}
	return e.take(c, def, exec, tr)
}

func (e *Engine) take(
	c *command.Context, def *ProcessDefinition,
	exec *Execution, tr *api.TransitionSpec,
) error {
	next, err := def.activity(tr.To)
	if err != nil {
		return err
	}
	return e.enter(c, def, exec, next)
}

// end removes an execution from the tree. Ending the root completes the
// process instance; ending the last child of an inactive parent ends the
// parent recursively
func (e *Engine) end(
	c *command.Context, def *ProcessDefinition, exec *Execution,
) error {
	if err := e.cancelJobs(c, exec); err != nil {
		return err
	}
	if exec.IsProcessInstance() {
		if err := e.deleteChildren(c, exec); err != nil {
			return err
		}
		c.Session.Delete(exec)
		c.Publish(&events.Event{
			Type:       events.ProcessEnded,
			Definition: exec.DefinitionID,
			Process:    exec.ProcessID,
		})
		return nil
	}

	parent, err := e.execByID(c, exec.ParentID)
	if err != nil {
		return err
	}
	c.Session.Delete(exec)
	remaining, err := e.childrenOf(c, parent)
	if err != nil {
		return err
	}
	if len(remaining) == 0 && !parent.IsActive {
		return e.end(c, def, parent)
	}
	return nil
}

func (e *Engine) deleteChildren(c *command.Context, exec *Execution) error {
	children, err := e.childrenOf(c, exec)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := e.deleteChildren(c, child); err != nil {
			return err
		}
		if err := e.cancelJobs(c, child); err != nil {
			return err
		}
		c.Session.Delete(child)
	}
	return nil
}

// firstSatisfied returns the first outgoing transition whose guard holds,
// guardless transitions always holding
func (e *Engine) firstSatisfied(
	c *command.Context, exec *Execution, act *api.ActivitySpec,
) (*api.TransitionSpec, error) {
	for _, tr := range act.Transitions {
		ok, err := e.guardHolds(c, exec, tr)
		if err != nil {
			return nil, err
		}
		if ok {
			return tr, nil
		}
	}
	return nil, nil
}

func (e *Engine) guardHolds(
	c *command.Context, exec *Execution, tr *api.TransitionSpec,
) (bool, error) {
	if tr.Guard == nil {
		return true, nil
	}
	vars, err := e.visibleVariables(c, exec)
	if err != nil {
		return false, err
	}
	return e.scripts.Evaluate(tr.Guard, vars)
}

// armTimers schedules the scope's timer jobs relative to the injected
// clock
func (e *Engine) armTimers(
	c *command.Context, scope *Execution, act *api.ActivitySpec,
) error {
	now := c.Now()
	for _, tm := range act.Timers {
		job := jobs.NewTimer(
			HandlerTimerFire, api.ExecutionID(scope.ID()),
			scope.ProcessID, tm.ID, now.Add(tm.After),
		)
		if err := c.Session.Insert(c.Context, job); err != nil {
			return err
		}
		c.Publish(&events.Event{
			Type:      events.JobCreated,
			Job:       api.JobID(job.ID()),
			Process:   scope.ProcessID,
			Execution: api.ExecutionID(scope.ID()),
		})
	}
	return nil
}

// parkForContinuation creates the async continuation message for an
// activity and leaves the execution waiting on it
func (e *Engine) parkForContinuation(
	c *command.Context, exec *Execution, act *api.ActivitySpec,
) error {
	payload, err := json.Marshal(continuationPayload{
		Activity: string(act.ID),
	})
	if err != nil {
		return err
	}
	job := jobs.NewMessage(
		HandlerAsyncContinue, api.ExecutionID(exec.ID()),
		exec.ProcessID, string(payload), c.Now(),
	)
	if err := c.Session.Insert(c.Context, job); err != nil {
		return err
	}
	c.Publish(&events.Event{
		Type:      events.JobCreated,
		Job:       api.JobID(job.ID()),
		Process:   exec.ProcessID,
		Execution: api.ExecutionID(exec.ID()),
	})
	return nil
}

// cancelJobs deletes the jobs still bound to an execution
func (e *Engine) cancelJobs(c *command.Context, exec *Execution) error {
	list, err := c.Session.FindList(c.Context, persistence.Query{
		Kind:  jobs.KindJob,
		Index: jobs.IndexExecution,
		Value: exec.ID(),
	})
	if err != nil {
		return err
	}
	for _, obj := range list {
		c.Session.Delete(obj)
	}
	return nil
}

// signal delivers an external trigger to a waiting execution
func (e *Engine) signal(
	c *command.Context, exec *Execution,
	name string, payload api.Variables,
) error {
	if !exec.IsActive {
		// a scope activity parks its parent; redirect to the waiting
		// scope child
		children, err := e.childrenOf(c, exec)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.IsScope && child.IsActive &&
				child.ActivityID == exec.ActivityID {
				return e.signal(c, child, name, payload)
			}
		}
		return fmt.Errorf("%w: %s", ErrExecutionNotActive, exec.ID())
	}
	def, err := e.defs.byID(c, exec.DefinitionID)
	if err != nil {
		return err
	}
	act, err := def.activity(exec.ActivityID)
	if err != nil {
		return err
	}
	return behaviorFor(act.Type).Signal(&ActivityContext{
		c:    c,
		eng:  e,
		def:  def,
		exec: exec,
		act:  act,
	}, name, payload)
}
