package engine

import (
	"errors"
	"fmt"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Behavior implements the runtime semantics of one activity type.
	// Execute runs when an execution enters the activity; Signal delivers
	// an external trigger to an execution waiting there
	Behavior interface {
		Execute(ac *ActivityContext) error
		Signal(ac *ActivityContext, name string, payload api.Variables) error
	}

	// ActivityContext is the view a behavior gets of the execution it is
	// driving
	ActivityContext struct {
		c    *command.Context
		eng  *Engine
		def  *ProcessDefinition
		exec *Execution
		act  *api.ActivitySpec
	}

	// signalUnexpected rejects signals on behalf of behaviors that never
	// wait
	signalUnexpected struct{}

	passBehavior    struct{ signalUnexpected }
	scriptBehavior  struct{ signalUnexpected }
	receiveBehavior struct{}
	forkBehavior    struct{ signalUnexpected }
	joinBehavior    struct{ signalUnexpected }
	endBehavior     struct{ signalUnexpected }
)

var (
	ErrSignalUnexpected = errors.New("activity does not accept signals")

	behaviors = map[api.ActivityType]Behavior{
		api.ActivityStart:   passBehavior{},
		api.ActivityTask:    passBehavior{},
		api.ActivityScript:  scriptBehavior{},
		api.ActivityReceive: receiveBehavior{},
		api.ActivityFork:    forkBehavior{},
		api.ActivityJoin:    joinBehavior{},
		api.ActivityEnd:     endBehavior{},
	}
)

func behaviorFor(t api.ActivityType) Behavior {
	return behaviors[t]
}

// Execution returns the execution being driven
func (ac *ActivityContext) Execution() *Execution {
	return ac.exec
}

// Activity returns the activity node being executed
func (ac *ActivityContext) Activity() *api.ActivitySpec {
	return ac.act
}

// Variables returns the variables visible at this point of the tree
func (ac *ActivityContext) Variables() (api.Variables, error) {
	return ac.eng.visibleVariables(ac.c, ac.exec)
}

// SetVariable assigns through the scope chain
func (ac *ActivityContext) SetVariable(
	name api.VariableName, value any,
) error {
	return ac.eng.setVariable(ac.c, ac.exec, name, value)
}

// Leave completes the activity and moves the execution on
func (ac *ActivityContext) Leave() error {
	return ac.eng.leave(ac.c, ac.def, ac.exec, ac.act)
}

func (signalUnexpected) Signal(
	ac *ActivityContext, _ string, _ api.Variables,
) error {
	return fmt.Errorf("%w: %s", ErrSignalUnexpected, ac.act.ID)
}

// passBehavior covers start events and automatic tasks: no work to
// observe here, the execution moves straight through
func (passBehavior) Execute(ac *ActivityContext) error {
	return ac.Leave()
}

// scriptBehavior evaluates the activity's script against the visible
// variables, stores the configured result, and leaves
func (scriptBehavior) Execute(ac *ActivityContext) error {
	vars, err := ac.Variables()
	if err != nil {
		return err
	}
	res, err := ac.eng.scripts.Execute(ac.act.Script, vars)
	if err != nil {
		return err
	}
	if ac.act.Script.Result != "" {
		if err := ac.SetVariable(ac.act.Script.Result, res); err != nil {
			return err
		}
	}
	return ac.Leave()
}

// receiveBehavior waits for an external signal. Payload variables are
// assigned through the scope chain; a signal naming an outgoing
// transition takes that transition, anything else leaves normally
func (receiveBehavior) Execute(*ActivityContext) error {
	return nil
}

func (receiveBehavior) Signal(
	ac *ActivityContext, name string, payload api.Variables,
) error {
	for k, v := range payload {
		if err := ac.SetVariable(k, v); err != nil {
			return err
		}
	}
	if tr, ok := ac.act.Transition(name); ok {
		return ac.eng.leaveVia(ac.c, ac.def, ac.exec, ac.act, tr)
	}
	return ac.Leave()
}

// forkBehavior deactivates the arriving execution and spawns one
// concurrent child per satisfied outgoing transition. All children are
// created before any of them moves, so sibling queries see the full set
func (forkBehavior) Execute(ac *ActivityContext) error {
	c, eng, exec := ac.c, ac.eng, ac.exec

	var satisfied []*api.TransitionSpec
	for _, tr := range ac.act.Transitions {
		ok, err := eng.guardHolds(c, exec, tr)
		if err != nil {
			return err
		}
		if ok {
			satisfied = append(satisfied, tr)
		}
	}
	if len(satisfied) == 0 {
		return eng.leaveVia(c, ac.def, exec, ac.act, nil)
	}

	exec.IsActive = false
	children := make([]*Execution, len(satisfied))
	for i := range satisfied {
		child := &Execution{
			DefinitionID: exec.DefinitionID,
			ProcessID:    exec.ProcessID,
			ParentID:     api.ExecutionID(exec.ID()),
			ActivityID:   ac.act.ID,
			IsActive:     true,
			IsConcurrent: true,
		}
		if err := c.Session.Insert(c.Context, child); err != nil {
			return err
		}
		children[i] = child
	}
	for i, child := range children {
		if err := eng.take(c, ac.def, child, satisfied[i]); err != nil {
			return err
		}
	}
	return nil
}

// joinBehavior parks arriving concurrent executions until the configured
// number has arrived, then collapses them back into the parent, which
// continues alone. A join that is never satisfied leaves the instance
// suspended
func (joinBehavior) Execute(ac *ActivityContext) error {
	c, eng, exec := ac.c, ac.eng, ac.exec
	if !exec.IsConcurrent {
		// a single token sails through
		return ac.Leave()
	}

	exec.IsActive = false
	parent, err := eng.execByID(c, exec.ParentID)
	if err != nil {
		return err
	}
	// every arrival writes the parent row, so two last arrivals in
	// separate sessions cannot both observe an unsatisfied count
	c.Session.Touch(parent)
	siblings, err := eng.childrenOf(c, parent)
	if err != nil {
		return err
	}
	var arrived []*Execution
	for _, sib := range siblings {
		if sib.ActivityID == ac.act.ID && !sib.IsActive {
			arrived = append(arrived, sib)
		}
	}
	if len(arrived) < ac.act.WaitFor {
		return nil
	}

	for _, sib := range arrived {
		c.Session.Delete(sib)
	}
	parent.IsActive = true
	parent.ActivityID = ac.act.ID
	return eng.leave(c, ac.def, parent, ac.act)
}

// endBehavior terminates the arriving execution
func (endBehavior) Execute(ac *ActivityContext) error {
	ac.c.Publish(&events.Event{
		Type:      events.ActivityEnded,
		Process:   ac.exec.ProcessID,
		Execution: api.ExecutionID(ac.exec.ID()),
		Activity:  ac.act.ID,
	})
	return ac.eng.end(ac.c, ac.def, ac.exec)
}
