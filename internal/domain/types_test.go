package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to UnitState
		want     bool
	}{
		{UnitAvailable, UnitHeld, true},
		{UnitHeld, UnitAvailable, true},
		{UnitHeld, UnitBooked, true},
		{UnitBooked, UnitAvailable, true},

		{UnitAvailable, UnitBooked, false},
		{UnitAvailable, UnitAvailable, false},
		{UnitHeld, UnitHeld, false},
		{UnitBooked, UnitHeld, false},
		{UnitBooked, UnitBooked, false},
		{UnitState("unknown"), UnitHeld, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestIntentStatusTerminal(t *testing.T) {
	assert.False(t, IntentPending.Terminal())
	assert.True(t, IntentSucceeded.Terminal())
	assert.True(t, IntentFailed.Terminal())
	assert.True(t, IntentCanceled.Terminal())
}

func TestHoldExpired(t *testing.T) {
	now := time.Now()
	h := &Hold{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, h.Expired(now))
	assert.True(t, h.Expired(now.Add(time.Minute)))
	assert.True(t, h.Expired(now.Add(2*time.Minute)))
}
