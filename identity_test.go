package chatsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dm(id, a, b string) Conversation {
	return Conversation{
		ID: id,
		Participants: []Participant{
			{UserID: a},
			{UserID: b},
		},
	}
}

func TestKeyOf(t *testing.T) {
	t.Run("pair key is order independent", func(t *testing.T) {
		assert.Equal(t, KeyOf(dm("c1", "alice", "bob")), KeyOf(dm("c2", "bob", "alice")))
	})

	t.Run("group keyed by id even with two participants", func(t *testing.T) {
		g := dm("g1", "alice", "bob")
		g.IsGroup = true
		assert.Equal(t, "g1", KeyOf(g))
		assert.NotEqual(t, KeyOf(g), KeyOf(dm("c1", "alice", "bob")))
	})

	t.Run("non-pair participant counts keyed by id", func(t *testing.T) {
		c := Conversation{ID: "c3", Participants: []Participant{{UserID: "alice"}}}
		assert.Equal(t, "c3", KeyOf(c))

		c.Participants = append(c.Participants, Participant{UserID: "bob"}, Participant{UserID: "eve"})
		assert.Equal(t, "c3", KeyOf(c))
	})
}

func TestDedupe(t *testing.T) {
	t.Run("keeps first occurrence and order", func(t *testing.T) {
		in := []Conversation{
			dm("c1", "alice", "bob"),
			dm("c2", "alice", "carol"),
			dm("c3", "bob", "alice"), // same pair as c1
		}
		out := Dedupe(in)
		require.Len(t, out, 2)
		assert.Equal(t, "c1", out[0].ID)
		assert.Equal(t, "c2", out[1].ID)
	})

	t.Run("confirmed entry replaces optimistic placeholder in place", func(t *testing.T) {
		in := []Conversation{
			dm("local-abc", "alice", "bob"),
			dm("c2", "alice", "carol"),
			dm("srv-9", "bob", "alice"),
		}
		out := Dedupe(in)
		require.Len(t, out, 2)
		// Server identity wins, slot position is preserved.
		assert.Equal(t, "srv-9", out[0].ID)
		assert.Equal(t, "c2", out[1].ID)
	})

	t.Run("groups with identical membership are distinct", func(t *testing.T) {
		g1 := dm("g1", "alice", "bob")
		g1.IsGroup = true
		g2 := dm("g2", "alice", "bob")
		g2.IsGroup = true
		out := Dedupe([]Conversation{g1, g2})
		assert.Len(t, out, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Dedupe(nil))
	})
}
