package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// ActivityType selects the runtime behavior of an activity
	ActivityType string

	// ProcessSpec is the serializable form of a process definition. It is
	// produced by the builder and stored verbatim at deployment time
	ProcessSpec struct {
		Activities map[ActivityID]*ActivitySpec `json:"activities"`
		Defaults   Variables                    `json:"defaults,omitempty"`
		Key        ProcessDefinitionKey         `json:"key"`
		Name       string                       `json:"name,omitempty"`
		Initial    ActivityID                   `json:"initial"`
	}

	// ActivitySpec describes a single node of the process graph
	ActivitySpec struct {
		Script      *ScriptConfig     `json:"script,omitempty"`
		ID          ActivityID        `json:"id"`
		Type        ActivityType      `json:"type"`
		Transitions []*TransitionSpec `json:"transitions,omitempty"`
		Timers      []*TimerSpec      `json:"timers,omitempty"`
		WaitFor     int               `json:"wait_for,omitempty"`
		IsScope     bool              `json:"is_scope,omitempty"`
		Async       bool              `json:"async,omitempty"`
	}

	// TransitionSpec describes a directed edge between two activities
	TransitionSpec struct {
		Guard *ScriptConfig `json:"guard,omitempty"`
		ID    string        `json:"id,omitempty"`
		To    ActivityID    `json:"to"`
	}

	// ScriptConfig holds a guard or script-task body
	ScriptConfig struct {
		Language string       `json:"language"`
		Source   string       `json:"source"`
		Result   VariableName `json:"result,omitempty"`
	}

	// TimerSpec declares a timer that is scheduled when its owning scope
	// activity becomes active. When the timer fires, the scope execution
	// is signaled with the timer ID
	TimerSpec struct {
		ID    string        `json:"id"`
		After time.Duration `json:"after"`
	}
)

const (
	// ActivityStart is the entry node of a process
	ActivityStart ActivityType = "start"

	// ActivityEnd terminates the arriving execution
	ActivityEnd ActivityType = "end"

	// ActivityTask runs automatic work and leaves immediately
	ActivityTask ActivityType = "task"

	// ActivityScript evaluates a script body, then leaves
	ActivityScript ActivityType = "script"

	// ActivityReceive waits for an external signal
	ActivityReceive ActivityType = "receive"

	// ActivityFork spawns a concurrent child per outgoing transition
	ActivityFork ActivityType = "fork"

	// ActivityJoin waits for WaitFor arrivals, then continues
	ActivityJoin ActivityType = "join"
)

const ScriptLangLua = "lua"

var (
	ErrProcessKeyEmpty       = errors.New("process key empty")
	ErrInitialActivityEmpty  = errors.New("initial activity empty")
	ErrActivityMissing       = errors.New("activity not defined")
	ErrActivityIDEmpty       = errors.New("activity ID empty")
	ErrInvalidActivityType   = errors.New("invalid activity type")
	ErrTransitionTarget      = errors.New("transition target not defined")
	ErrScriptRequired        = errors.New("script required")
	ErrScriptLanguageEmpty   = errors.New("script language empty")
	ErrScriptSourceEmpty     = errors.New("script source empty")
	ErrWaitForNotPositive    = errors.New("wait_for must be positive")
	ErrTimerIDEmpty          = errors.New("timer ID empty")
	ErrTimerAfterNotPositive = errors.New("timer duration must be positive")
	ErrTimerNeedsScope       = errors.New("timers require a scope activity")
)

var activityTypes = map[ActivityType]bool{
	ActivityStart:   true,
	ActivityEnd:     true,
	ActivityTask:    true,
	ActivityScript:  true,
	ActivityReceive: true,
	ActivityFork:    true,
	ActivityJoin:    true,
}

// Validate checks the structural integrity of the process graph
func (p *ProcessSpec) Validate() error {
	if p.Key == "" {
		return ErrProcessKeyEmpty
	}
	if p.Initial == "" {
		return ErrInitialActivityEmpty
	}
	if _, ok := p.Activities[p.Initial]; !ok {
		return fmt.Errorf("%w: %s", ErrActivityMissing, p.Initial)
	}
	for id, act := range p.Activities {
		if err := act.Validate(); err != nil {
			return fmt.Errorf("%w: activity %s", err, id)
		}
		for _, tr := range act.Transitions {
			if _, ok := p.Activities[tr.To]; !ok {
				return fmt.Errorf("%w: %s -> %s",
					ErrTransitionTarget, id, tr.To)
			}
		}
	}
	return nil
}

// Validate checks a single activity node
func (a *ActivitySpec) Validate() error {
	if a.ID == "" {
		return ErrActivityIDEmpty
	}
	if !activityTypes[a.Type] {
		return fmt.Errorf("%w: %s", ErrInvalidActivityType, a.Type)
	}
	if a.Type == ActivityScript {
		if a.Script == nil {
			return ErrScriptRequired
		}
		if err := a.Script.Validate(); err != nil {
			return err
		}
	}
	if a.Type == ActivityJoin && a.WaitFor < 1 {
		return ErrWaitForNotPositive
	}
	if len(a.Timers) > 0 && !a.IsScope {
		return ErrTimerNeedsScope
	}
	for _, tm := range a.Timers {
		if tm.ID == "" {
			return ErrTimerIDEmpty
		}
		if tm.After <= 0 {
			return ErrTimerAfterNotPositive
		}
	}
	for _, tr := range a.Transitions {
		if tr.Guard != nil {
			if err := tr.Guard.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks a script configuration
func (s *ScriptConfig) Validate() error {
	if s.Language == "" {
		return ErrScriptLanguageEmpty
	}
	if s.Source == "" {
		return ErrScriptSourceEmpty
	}
	return nil
}

// Transition returns the outgoing transition with the given ID
func (a *ActivitySpec) Transition(id string) (*TransitionSpec, bool) {
	for _, tr := range a.Transitions {
		if tr.ID == id {
			return tr, true
		}
	}
	return nil, false
}

// Timer returns the timer declaration with the given ID
func (a *ActivitySpec) Timer(id string) (*TimerSpec, bool) {
	for _, tm := range a.Timers {
		if tm.ID == id {
			return tm, true
		}
	}
	return nil, false
}
