package builder

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kode4food/paisley/pkg/api"
)

// Process is a builder for a deployable process definition
type Process struct {
	key        api.ProcessDefinitionKey
	name       string
	initial    api.ActivityID
	defaults   api.Variables
	err        error
	activities []*Activity
}

var ErrDefaultsNotObject = errors.New("defaults must be a JSON object")

// NewProcess creates a new process builder with the specified key
func NewProcess(key api.ProcessDefinitionKey) *Process {
	return &Process{key: key}
}

// WithName sets the process display name
func (p *Process) WithName(name string) *Process {
	res := *p
	res.name = name
	return &res
}

// StartingAt overrides the initial activity. When not called, the first
// start activity added is used
func (p *Process) StartingAt(id api.ActivityID) *Process {
	res := *p
	res.initial = id
	return &res
}

// WithDefaultsJSON declares default variable values as a JSON object
// literal. Instances start with these values underneath any variables
// provided at start time
func (p *Process) WithDefaultsJSON(src string) *Process {
	res := *p
	parsed := gjson.Parse(src)
	if !parsed.IsObject() {
		res.err = fmt.Errorf("%w: %s", ErrDefaultsNotObject, src)
		return &res
	}
	res.defaults = api.Variables{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		res.defaults[api.VariableName(key.String())] = value.Value()
		return true
	})
	return &res
}

// Add appends activities to the process graph
func (p *Process) Add(acts ...*Activity) *Process {
	res := *p
	res.activities = make([]*Activity, len(p.activities)+len(acts))
	copy(res.activities, p.activities)
	copy(res.activities[len(p.activities):], acts)
	return &res
}

// Build assembles and validates the process spec. Joins without an
// explicit arrival count default to the number of inbound transitions
func (p *Process) Build() (*api.ProcessSpec, error) {
	if p.err != nil {
		return nil, p.err
	}
	spec := &api.ProcessSpec{
		Key:        p.key,
		Name:       p.name,
		Initial:    p.initial,
		Defaults:   p.defaults,
		Activities: map[api.ActivityID]*api.ActivitySpec{},
	}
	inbound := map[api.ActivityID]int{}
	for _, act := range p.activities {
		a := act.spec()
		spec.Activities[a.ID] = a
		if spec.Initial == "" && a.Type == api.ActivityStart {
			spec.Initial = a.ID
		}
		for _, tr := range a.Transitions {
			inbound[tr.To]++
		}
	}
	for _, a := range spec.Activities {
		if a.Type == api.ActivityJoin && a.WaitFor == 0 {
			a.WaitFor = inbound[a.ID]
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
