package engine

import (
	"errors"
	"fmt"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/pkg/api"
)

var ErrVariableNotFound = errors.New("variable not found")

// scopeChain returns the scope-owning executions visible from exec,
// innermost first, ending at the process instance root
func (e *Engine) scopeChain(
	c *command.Context, exec *Execution,
) ([]*Execution, error) {
	var res []*Execution
	cur := exec
	for {
		if cur.IsScope || cur.IsProcessInstance() {
			res = append(res, cur)
		}
		if cur.IsProcessInstance() {
			return res, nil
		}
		parent, err := e.execByID(c, cur.ParentID)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
}

// visibleVariables flattens the scope chain into one map, inner scopes
// shadowing outer ones
func (e *Engine) visibleVariables(
	c *command.Context, exec *Execution,
) (api.Variables, error) {
	chain, err := e.scopeChain(c, exec)
	if err != nil {
		return nil, err
	}
	res := api.Variables{}
	for i := len(chain) - 1; i >= 0; i-- {
		res = res.Merge(chain[i].Variables)
	}
	return res, nil
}

// getVariable resolves a name through the scope chain, innermost scope
// first
func (e *Engine) getVariable(
	c *command.Context, exec *Execution, name api.VariableName,
) (any, error) {
	chain, err := e.scopeChain(c, exec)
	if err != nil {
		return nil, err
	}
	for _, scope := range chain {
		if v, ok := scope.Variables[name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
}

// setVariable assigns to the scope that already holds the name, falling
// back to the process instance root
func (e *Engine) setVariable(
	c *command.Context, exec *Execution, name api.VariableName, value any,
) error {
	chain, err := e.scopeChain(c, exec)
	if err != nil {
		return err
	}
	owner := chain[len(chain)-1]
	for _, scope := range chain {
		if _, ok := scope.Variables[name]; ok {
			owner = scope
			break
		}
	}
	assignVariable(c, owner, name, value)
	return nil
}

// setVariableLocal assigns within the nearest enclosing scope regardless
// of shadowed outer bindings
func (e *Engine) setVariableLocal(
	c *command.Context, exec *Execution, name api.VariableName, value any,
) error {
	chain, err := e.scopeChain(c, exec)
	if err != nil {
		return err
	}
	assignVariable(c, chain[0], name, value)
	return nil
}

func assignVariable(
	c *command.Context, owner *Execution, name api.VariableName, value any,
) {
	if owner.Variables == nil {
		owner.Variables = api.Variables{}
	}
	owner.Variables[name] = value
	c.Publish(&events.Event{
		Type:      events.VariableUpdated,
		Process:   owner.ProcessID,
		Execution: api.ExecutionID(owner.ID()),
		Variable:  name,
		Value:     value,
	})
}
