// SPDX-License-Identifier: LGPL-3.0-or-later

package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsGroupStaleAfterThirtyDays(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	assert.False(t, IsGroupStale(now.Add(-GroupStaleAfter+time.Minute), now))
	assert.True(t, IsGroupStale(now.Add(-GroupStaleAfter-time.Minute), now))
}

func TestReconnectorRunSucceedsOnFirstAttempt(t *testing.T) {
	gossipRan := false
	r := NewReconnector(nil,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { gossipRan = true; return nil },
	)

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, gossipRan, "a successful reconnect must trigger the post-reconnect gossip/announce")
	assert.Equal(t, 0, r.Backoff().Failures())
}

func TestReconnectorRunBackoffSleepIsInterruptible(t *testing.T) {
	attempts := 0
	r := NewReconnector(nil,
		func(ctx context.Context) error {
			attempts++
			return errors.New("connect refused")
		},
		nil,
	)

	// The first failure schedules a 30s backoff sleep; the context
	// deadline must interrupt it rather than waiting it out.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, r.Backoff().Failures())
}

func TestReconnectorRunRefusesOnceFreshInviteRequired(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < MaxFailuresBeforeFreshInvite; i++ {
		b.RecordFailure()
	}

	connectCalled := false
	r := NewReconnector(b, func(ctx context.Context) error { connectCalled = true; return nil }, nil)

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.False(t, connectCalled, "a tripped requires-fresh-invite gate must refuse before attempting to connect")
}

func TestReconnectorRunReturnsStaleAfterTooManyFailures(t *testing.T) {
	r := NewReconnector(nil, func(ctx context.Context) error { return errors.New("always fails") }, nil)
	for i := 0; i < MaxFailuresBeforeFreshInvite-1; i++ {
		r.backoff.RecordFailure()
	}

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, r.Backoff().RequiresFreshInvite())
}
