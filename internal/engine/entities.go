package engine

import (
	"time"

	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Deployment groups the process definitions and resources deployed
	// in one operation
	Deployment struct {
		persistence.Record
		Time      time.Time `json:"time"`
		Name      string    `json:"name,omitempty"`
		Resources []string  `json:"resources,omitempty"`
	}

	// ProcessDefinition is one deployed, immutable version of a process.
	// The spec is stored verbatim; versions of the same key count up from
	// one
	ProcessDefinition struct {
		persistence.Record
		Spec         *api.ProcessSpec         `json:"spec"`
		Key          api.ProcessDefinitionKey `json:"key"`
		DeploymentID api.DeploymentID         `json:"deployment"`
		Version      int                      `json:"version"`
	}

	// Execution is one node of a process instance's execution tree. The
	// root execution doubles as the process instance; concurrent children
	// are spawned by forks, and scope children carry local variables and
	// timers
	Execution struct {
		persistence.Record
		Variables    api.Variables           `json:"variables,omitempty"`
		DefinitionID api.ProcessDefinitionID `json:"definition"`
		ProcessID    api.ProcessInstanceID   `json:"process"`
		ParentID     api.ExecutionID         `json:"parent,omitempty"`
		ActivityID   api.ActivityID          `json:"activity,omitempty"`
		IsActive     bool                    `json:"active"`
		IsConcurrent bool                    `json:"concurrent,omitempty"`
		IsScope      bool                    `json:"scope,omitempty"`
	}
)

const (
	KindDeployment = persistence.Kind("deployment")
	KindDefinition = persistence.Kind("definition")
	KindExecution  = persistence.Kind("execution")
)

// Index names for definition and execution lookups
const (
	IndexDefinitionKey  = "key"
	IndexExecutionProc  = "process"
	IndexExecutionOwner = "parent"
)

func (*Deployment) Kind() persistence.Kind { return KindDeployment }

func (d *Deployment) State() any {
	state := *d
	return state
}

func (*ProcessDefinition) Kind() persistence.Kind { return KindDefinition }

// State returns the identifying fields only. Definitions never change
// after deployment, so the spec graph stays out of the snapshot
func (d *ProcessDefinition) State() any {
	return struct {
		Key          api.ProcessDefinitionKey
		DeploymentID api.DeploymentID
		Version      int
	}{d.Key, d.DeploymentID, d.Version}
}

func (*Execution) Kind() persistence.Kind { return KindExecution }

// State clones the variable map so later mutation registers as dirty
func (e *Execution) State() any {
	state := *e
	state.Variables = e.Variables.Clone()
	return state
}

// IsProcessInstance reports whether this is the root execution of its
// instance
func (e *Execution) IsProcessInstance() bool {
	return e.ParentID == ""
}

// RegisterKinds adds the engine's persistent kinds to a registry
func RegisterKinds(kinds persistence.Registry) {
	kinds.Register(&persistence.KindInfo{
		Kind: KindDeployment,
		New:  func() persistence.PersistentObject { return &Deployment{} },
	})
	kinds.Register(&persistence.KindInfo{
		Kind: KindDefinition,
		New:  func() persistence.PersistentObject { return &ProcessDefinition{} },
		Indexes: func(obj persistence.PersistentObject) []persistence.Index {
			d := obj.(*ProcessDefinition)
			return []persistence.Index{
				{Name: IndexDefinitionKey, Value: string(d.Key)},
			}
		},
	})
	kinds.Register(&persistence.KindInfo{
		Kind:    KindExecution,
		New:     func() persistence.PersistentObject { return &Execution{} },
		Indexes: executionIndexes,
	})
}

func executionIndexes(obj persistence.PersistentObject) []persistence.Index {
	e := obj.(*Execution)
	res := []persistence.Index{
		{Name: IndexExecutionProc, Value: string(e.ProcessID)},
	}
	if e.ParentID != "" {
		res = append(res, persistence.Index{
			Name:  IndexExecutionOwner,
			Value: string(e.ParentID),
		})
	}
	return res
}
