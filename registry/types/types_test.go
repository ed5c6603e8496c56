package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateUnregistered, StateRegistered, true},
		{StateRegistered, StateRunning, true},
		{StateRunning, StatePaused, true},
		{StatePaused, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StatePaused, StateStopping, true},
		{StateStopping, StateUnregistered, true},
		{StateRunning, StateError, true},
		{StatePaused, StateError, true},
		{StateError, StateRegistered, true},
		{StateUnregistered, StateRunning, false},
		{StateRegistered, StateStopping, false},
		{StateError, StateRunning, false},
	}
	for _, c := range cases {
		got := c.from.CanTransition(c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNREGISTERED", StateUnregistered.String())
}
