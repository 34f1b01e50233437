package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayProgression(t *testing.T) {
	b := NewBackoff()

	d, fresh := b.RecordFailure()
	assert.Equal(t, 30*time.Second, d)
	assert.False(t, fresh)

	d, _ = b.RecordFailure()
	assert.Equal(t, 60*time.Second, d)

	d, _ = b.RecordFailure()
	assert.Equal(t, 120*time.Second, d)
}

func TestBackoffCapsAtOneHour(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	d, _ := b.RecordFailure()
	assert.Equal(t, time.Hour, d)
}

func TestBackoffRequiresFreshInviteAfterSixFailures(t *testing.T) {
	b := NewBackoff()
	var fresh bool
	for i := 0; i < MaxFailuresBeforeFreshInvite; i++ {
		_, fresh = b.RecordFailure()
	}
	assert.True(t, fresh)
	assert.True(t, b.RequiresFreshInvite())
}

func TestBackoffResetsOnSuccess(t *testing.T) {
	b := NewBackoff()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	d, _ := b.RecordFailure()
	assert.Equal(t, 30*time.Second, d, "delay must restart from the base after a reset")
}
