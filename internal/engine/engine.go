// Package engine implements the process runtime: deployed definitions,
// the execution tree, activity behaviors, scoped variables, and the
// public operations, every one of which runs as a command against a
// single unit of work
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/kode4food/paisley/internal/archive"
	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/engine/script"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Config wires an Engine to its backend and ambient services
	Config struct {
		Backend   persistence.Backend
		Kinds     persistence.Registry
		Clock     command.Clock
		Log       *slog.Logger
		Hub       *events.Hub
		Archive   *archive.Store
		Scripts   *script.Registry
		Handlers  *jobs.Handlers
		Retries   int
		CacheSize int
	}

	// Engine is the process runtime facade
	Engine struct {
		cmds     *command.Executor
		defs     *definitions
		scripts  *script.Registry
		handlers *jobs.Handlers
		archive  *archive.Store
		backend  persistence.Backend
		log      *slog.Logger
	}

	// DeploymentRequest carries the definitions and resource bytes of one
	// deployment
	DeploymentRequest struct {
		Resources map[string][]byte
		Name      string
		Specs     []*api.ProcessSpec
	}

	// DeploymentResult reports what a deployment created
	DeploymentResult struct {
		ID          api.DeploymentID
		Definitions []*ProcessDefinition
	}
)

var ErrNothingToDeploy = errors.New("deployment contains no definitions")

// New creates an engine and registers its job handlers
func New(cfg *Config) (*Engine, error) {
	cmds, err := command.NewExecutor(&command.Config{
		Backend: cfg.Backend,
		Kinds:   cfg.Kinds,
		Clock:   cfg.Clock,
		Log:     cfg.Log,
		Hub:     cfg.Hub,
		Retries: cfg.Retries,
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cmds:     cmds,
		defs:     newDefinitions(cfg.CacheSize),
		scripts:  cfg.Scripts,
		handlers: cfg.Handlers,
		archive:  cfg.Archive,
		backend:  cfg.Backend,
		log:      cfg.Log,
	}
	if e.scripts == nil {
		e.scripts = script.NewRegistry()
	}
	if e.handlers == nil {
		e.handlers = jobs.NewHandlers()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.registerHandlers()
	return e, nil
}

// Commands exposes the command executor for components that share the
// engine's pipeline, such as the job executor
func (e *Engine) Commands() *command.Executor {
	return e.cmds
}

// Handlers exposes the job handler registry
func (e *Engine) Handlers() *jobs.Handlers {
	return e.handlers
}

// Deploy validates and stores the request's definitions, each under the
// next version of its key, and archives the resource bytes
func (e *Engine) Deploy(
	ctx context.Context, req *DeploymentRequest,
) (*DeploymentResult, error) {
	if len(req.Specs) == 0 {
		return nil, ErrNothingToDeploy
	}
	for _, spec := range req.Specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	res, err := command.Run(e.cmds, ctx, "Deploy",
		func(c *command.Context) (*DeploymentResult, error) {
			dep := &Deployment{
				Time:      c.Now(),
				Name:      req.Name,
				Resources: resourceNames(req.Resources),
			}
			dep.SetID(uuid.NewString())
			if err := c.Session.Insert(c.Context, dep); err != nil {
				return nil, err
			}
			depID := api.DeploymentID(dep.ID())

			defs := make([]*ProcessDefinition, len(req.Specs))
			for i, spec := range req.Specs {
				version := 1
				prev, err := e.defs.latestByKey(c, spec.Key)
				if err != nil && !errors.Is(err, ErrDefinitionNotFound) {
					return nil, err
				}
				if prev != nil {
					version = prev.Version + 1
				}
				def := &ProcessDefinition{
					Spec:         spec,
					Key:          spec.Key,
					DeploymentID: depID,
					Version:      version,
				}
				if err := c.Session.Insert(c.Context, def); err != nil {
					return nil, err
				}
				defs[i] = def
				c.Publish(&events.Event{
					Type:       events.DeploymentCreated,
					Definition: api.ProcessDefinitionID(def.ID()),
				})
			}
			return &DeploymentResult{ID: depID, Definitions: defs}, nil
		})
	if err != nil {
		return nil, err
	}

	for _, def := range res.Definitions {
		e.defs.add(def)
	}
	if err := e.storeResources(ctx, res.ID, req.Resources); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) storeResources(
	ctx context.Context, dep api.DeploymentID, resources map[string][]byte,
) error {
	if e.archive == nil || len(resources) == 0 {
		return nil
	}
	for name, data := range resources {
		if err := e.archive.PutResource(ctx, dep, name, data); err != nil {
			return err
		}
	}
	return nil
}

// GetResource retrieves archived deployment resource bytes
func (e *Engine) GetResource(
	ctx context.Context, dep api.DeploymentID, name string,
) ([]byte, error) {
	return e.archive.GetResource(ctx, dep, name)
}

// StartProcessInstanceByKey starts an instance of the latest deployed
// version of a key
func (e *Engine) StartProcessInstanceByKey(
	ctx context.Context, key api.ProcessDefinitionKey, vars api.Variables,
) (*Execution, error) {
	return command.Run(e.cmds, ctx, "StartProcessInstanceByKey",
		func(c *command.Context) (*Execution, error) {
			def, err := e.defs.latestByKey(c, key)
			if err != nil {
				return nil, err
			}
			return e.startInstance(c, def, vars)
		})
}

// StartProcessInstanceByID starts an instance of an exact definition
// version
func (e *Engine) StartProcessInstanceByID(
	ctx context.Context, id api.ProcessDefinitionID, vars api.Variables,
) (*Execution, error) {
	return command.Run(e.cmds, ctx, "StartProcessInstanceByID",
		func(c *command.Context) (*Execution, error) {
			def, err := e.defs.byID(c, id)
			if err != nil {
				return nil, err
			}
			return e.startInstance(c, def, vars)
		})
}

// Signal delivers an external trigger to a waiting execution
func (e *Engine) Signal(
	ctx context.Context, id api.ExecutionID,
	name string, payload api.Variables,
) error {
	_, err := command.Run(e.cmds, ctx, "Signal",
		func(c *command.Context) (bool, error) {
			exec, err := e.execByID(c, id)
			if err != nil {
				return false, err
			}
			if err := e.signal(c, exec, name, payload); err != nil {
				return false, err
			}
			return true, nil
		})
	return err
}

// GetVariable resolves a variable through the execution's scope chain
func (e *Engine) GetVariable(
	ctx context.Context, id api.ExecutionID, name api.VariableName,
) (any, error) {
	return command.Run(e.cmds, ctx, "GetVariable",
		func(c *command.Context) (any, error) {
			exec, err := e.execByID(c, id)
			if err != nil {
				return nil, err
			}
			return e.getVariable(c, exec, name)
		})
}

// GetVariables returns all variables visible from the execution
func (e *Engine) GetVariables(
	ctx context.Context, id api.ExecutionID,
) (api.Variables, error) {
	return command.Run(e.cmds, ctx, "GetVariables",
		func(c *command.Context) (api.Variables, error) {
			exec, err := e.execByID(c, id)
			if err != nil {
				return nil, err
			}
			return e.visibleVariables(c, exec)
		})
}

// SetVariable assigns a variable through the execution's scope chain
func (e *Engine) SetVariable(
	ctx context.Context, id api.ExecutionID,
	name api.VariableName, value any,
) error {
	_, err := command.Run(e.cmds, ctx, "SetVariable",
		func(c *command.Context) (bool, error) {
			exec, err := e.execByID(c, id)
			if err != nil {
				return false, err
			}
			if err := e.setVariable(c, exec, name, value); err != nil {
				return false, err
			}
			return true, nil
		})
	return err
}

// SetVariableLocal assigns a variable in the execution's nearest scope
func (e *Engine) SetVariableLocal(
	ctx context.Context, id api.ExecutionID,
	name api.VariableName, value any,
) error {
	_, err := command.Run(e.cmds, ctx, "SetVariableLocal",
		func(c *command.Context) (bool, error) {
			exec, err := e.execByID(c, id)
			if err != nil {
				return false, err
			}
			if err := e.setVariableLocal(c, exec, name, value); err != nil {
				return false, err
			}
			return true, nil
		})
	return err
}

// DeleteProcessInstance cancels a running instance, removing its
// execution tree and pending jobs. The reason is carried on the
// instance's end event and recorded in its history
func (e *Engine) DeleteProcessInstance(
	ctx context.Context, id api.ProcessInstanceID, reason string,
) error {
	_, err := command.Run(e.cmds, ctx, "DeleteProcessInstance",
		func(c *command.Context) (bool, error) {
			root, err := e.execByID(c, api.ExecutionID(id))
			if err != nil {
				return false, err
			}
			if err := e.deleteChildren(c, root); err != nil {
				return false, err
			}
			if err := e.cancelJobs(c, root); err != nil {
				return false, err
			}
			c.Session.Delete(root)
			c.Publish(&events.Event{
				Type:       events.ProcessEnded,
				Definition: root.DefinitionID,
				Process:    root.ProcessID,
				Reason:     reason,
			})
			return true, nil
		})
	return err
}

// FindExecution returns an execution by ID
func (e *Engine) FindExecution(
	ctx context.Context, id api.ExecutionID,
) (*Execution, error) {
	return command.Run(e.cmds, ctx, "FindExecution",
		func(c *command.Context) (*Execution, error) {
			return e.execByID(c, id)
		})
}

// FindProcessInstance returns the root execution of an instance
func (e *Engine) FindProcessInstance(
	ctx context.Context, id api.ProcessInstanceID,
) (*Execution, error) {
	return e.FindExecution(ctx, api.ExecutionID(id))
}

// FindExecutionsByProcess returns every execution of an instance
func (e *Engine) FindExecutionsByProcess(
	ctx context.Context, id api.ProcessInstanceID,
) ([]*Execution, error) {
	return command.Run(e.cmds, ctx, "FindExecutionsByProcess",
		func(c *command.Context) ([]*Execution, error) {
			list, err := c.Session.FindList(c.Context, persistence.Query{
				Kind:  KindExecution,
				Index: IndexExecutionProc,
				Value: string(id),
			})
			if err != nil {
				return nil, err
			}
			res := make([]*Execution, len(list))
			for i, obj := range list {
				res[i] = obj.(*Execution)
			}
			return res, nil
		})
}

// FindLatestDefinition returns the newest deployed version of a key
func (e *Engine) FindLatestDefinition(
	ctx context.Context, key api.ProcessDefinitionKey,
) (*ProcessDefinition, error) {
	return command.Run(e.cmds, ctx, "FindLatestDefinition",
		func(c *command.Context) (*ProcessDefinition, error) {
			return e.defs.latestByKey(c, key)
		})
}

// FindDefinition returns a definition by ID
func (e *Engine) FindDefinition(
	ctx context.Context, id api.ProcessDefinitionID,
) (*ProcessDefinition, error) {
	return command.Run(e.cmds, ctx, "FindDefinition",
		func(c *command.Context) (*ProcessDefinition, error) {
			return e.defs.byID(c, id)
		})
}

// Counts reports stored object counts per kind, for management tooling
func (e *Engine) Counts(
	ctx context.Context,
) (map[persistence.Kind]int64, error) {
	return e.backend.Counts(ctx)
}

// Clock returns the engine's time source
func (e *Engine) Clock() command.Clock {
	return e.cmds.Clock()
}

func resourceNames(resources map[string][]byte) []string {
	if len(resources) == 0 {
		return nil
	}
	res := make([]string, 0, len(resources))
	for name := range resources {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
