package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testState string

const (
	stateInit     testState = "init"
	stateRunning  testState = "running"
	stateComplete testState = "complete"
	stateFailed   testState = "failed"
)

func testTransitions() StateTransitions[testState] {
	return StateTransitions[testState]{
		stateInit:     SetOf(stateRunning, stateFailed),
		stateRunning:  SetOf(stateComplete, stateFailed),
		stateComplete: {},
		stateFailed:   {},
	}
}

func TestCanTransition(t *testing.T) {
	tr := testTransitions()

	assert.True(t, tr.CanTransition(stateInit, stateRunning))
	assert.True(t, tr.CanTransition(stateRunning, stateFailed))
	assert.False(t, tr.CanTransition(stateComplete, stateRunning))
	assert.False(t, tr.CanTransition(stateInit, stateComplete))
	assert.False(t, tr.CanTransition("unknown", stateRunning))
}

func TestIsTerminal(t *testing.T) {
	tr := testTransitions()

	assert.True(t, tr.IsTerminal(stateComplete))
	assert.True(t, tr.IsTerminal(stateFailed))
	assert.False(t, tr.IsTerminal(stateInit))
	assert.False(t, tr.IsTerminal("unknown"))
}
