package builder

import (
	"time"

	"github.com/kode4food/paisley/pkg/api"
)

// Activity is a builder for a single node of the process graph
type Activity struct {
	script      *api.ScriptConfig
	id          api.ActivityID
	actType     api.ActivityType
	transitions []*api.TransitionSpec
	timers      []*api.TimerSpec
	waitFor     int
	isScope     bool
	async       bool
}

// NewActivity creates a new activity builder of the specified type
func NewActivity(id api.ActivityID, actType api.ActivityType) *Activity {
	return &Activity{
		id:      id,
		actType: actType,
	}
}

// Start creates a process entry activity
func Start(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityStart)
}

// End creates a terminating activity
func End(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityEnd)
}

// Task creates an automatic pass-through activity
func Task(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityTask)
}

// Script creates a script task evaluating a Lua body
func Script(id api.ActivityID, source string) *Activity {
	res := NewActivity(id, api.ActivityScript)
	res.script = &api.ScriptConfig{
		Language: api.ScriptLangLua,
		Source:   source,
	}
	return res
}

// Receive creates an activity that waits for an external signal
func Receive(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityReceive)
}

// Fork creates an activity spawning a concurrent child per satisfied
// outgoing transition
func Fork(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityFork)
}

// Join creates an activity where concurrent children converge. Unless
// WaitingFor overrides it, the arrival count defaults to the number of
// transitions targeting the join
func Join(id api.ActivityID) *Activity {
	return NewActivity(id, api.ActivityJoin)
}

// To adds an unguarded transition to the target activity
func (a *Activity) To(target api.ActivityID) *Activity {
	return a.addTransition(&api.TransitionSpec{To: target})
}

// ToNamed adds a named unguarded transition, usable as a signal or
// timer target
func (a *Activity) ToNamed(id string, target api.ActivityID) *Activity {
	return a.addTransition(&api.TransitionSpec{ID: id, To: target})
}

// ToIf adds a transition guarded by a Lua expression
func (a *Activity) ToIf(target api.ActivityID, guard string) *Activity {
	return a.addTransition(&api.TransitionSpec{
		To: target,
		Guard: &api.ScriptConfig{
			Language: api.ScriptLangLua,
			Source:   guard,
		},
	})
}

// WithResult names the variable the script task's value is stored under
func (a *Activity) WithResult(name api.VariableName) *Activity {
	res := *a
	if res.script != nil {
		scriptCopy := *res.script
		res.script = &scriptCopy
	} else {
		res.script = &api.ScriptConfig{}
	}
	res.script.Result = name
	return &res
}

// AsScope makes the activity a variable and timer scope
func (a *Activity) AsScope() *Activity {
	res := *a
	res.isScope = true
	return &res
}

// Async parks the activity behind a continuation job instead of running
// it in the caller's transaction
func (a *Activity) Async() *Activity {
	res := *a
	res.async = true
	return &res
}

// WithTimer declares a timer armed when the activity's scope becomes
// active. A transition named after the timer is taken when it fires
func (a *Activity) WithTimer(id string, after time.Duration) *Activity {
	res := *a
	res.isScope = true
	res.timers = make([]*api.TimerSpec, len(a.timers)+1)
	copy(res.timers, a.timers)
	res.timers[len(a.timers)] = &api.TimerSpec{ID: id, After: after}
	return &res
}

// WaitingFor overrides the join's arrival count
func (a *Activity) WaitingFor(count int) *Activity {
	res := *a
	res.waitFor = count
	return &res
}

func (a *Activity) addTransition(tr *api.TransitionSpec) *Activity {
	res := *a
	res.transitions = make([]*api.TransitionSpec, len(a.transitions)+1)
	copy(res.transitions, a.transitions)
	res.transitions[len(a.transitions)] = tr
	return &res
}

func (a *Activity) spec() *api.ActivitySpec {
	return &api.ActivitySpec{
		Script:      a.script,
		ID:          a.id,
		Type:        a.actType,
		Transitions: a.transitions,
		Timers:      a.timers,
		WaitFor:     a.waitFor,
		IsScope:     a.isScope,
		Async:       a.async,
	}
}
