package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTrackerUnknownUser(t *testing.T) {
	p := NewPresenceTracker("self")

	// Never-observed users must be reported as unknown, not assumed online.
	_, ok := p.StatusOf("stranger")
	assert.False(t, ok)
}

func TestPresenceTrackerApply(t *testing.T) {
	p := NewPresenceTracker("self")

	t.Run("status change", func(t *testing.T) {
		p.Apply(PresenceEvent{UserID: "bob", Status: PresenceAway})
		rec, ok := p.StatusOf("bob")
		require.True(t, ok)
		assert.Equal(t, PresenceAway, rec.Status)
	})

	t.Run("custom status kept until replaced", func(t *testing.T) {
		p.Apply(PresenceEvent{UserID: "bob", Status: PresenceBusy, CustomStatus: "in a call"})
		rec, _ := p.StatusOf("bob")
		assert.Equal(t, "in a call", rec.CustomStatus)

		// An event without a custom status does not erase the previous one.
		p.Apply(PresenceEvent{UserID: "bob", Status: PresenceOnline})
		rec, _ = p.StatusOf("bob")
		assert.Equal(t, PresenceOnline, rec.Status)
		assert.Equal(t, "in a call", rec.CustomStatus)
	})

	t.Run("last seen recorded on going offline", func(t *testing.T) {
		now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
		p.now = func() time.Time { return now }

		p.Apply(PresenceEvent{UserID: "carol", Status: PresenceOffline})
		rec, ok := p.StatusOf("carol")
		require.True(t, ok)
		assert.Equal(t, PresenceOffline, rec.Status)
		assert.Equal(t, now, rec.LastSeen)
	})

	t.Run("server supplied last seen wins", func(t *testing.T) {
		seen := time.Date(2026, 8, 10, 11, 30, 0, 0, time.UTC)
		p.Apply(PresenceEvent{UserID: "dave", Status: PresenceOffline, LastSeen: seen})
		rec, _ := p.StatusOf("dave")
		assert.Equal(t, seen, rec.LastSeen)
	})
}

func TestPresenceTrackerHandleLive(t *testing.T) {
	p := NewPresenceTracker("self")

	p.HandleLive(true)
	rec, ok := p.StatusOf("self")
	require.True(t, ok)
	assert.Equal(t, PresenceOnline, rec.Status)

	p.HandleLive(false)
	rec, _ = p.StatusOf("self")
	assert.Equal(t, PresenceOffline, rec.Status)

	// Other users are untouched by the local connection state.
	p.Apply(PresenceEvent{UserID: "bob", Status: PresenceOnline})
	p.HandleLive(false)
	rec, _ = p.StatusOf("bob")
	assert.Equal(t, PresenceOnline, rec.Status)
}
