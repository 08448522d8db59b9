package chatsync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) *BoltState {
	t.Helper()
	st, err := OpenBoltState(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBoltStateLastActive(t *testing.T) {
	st := openTestState(t)

	_, ok := st.LastActiveConversation()
	assert.False(t, ok)

	require.NoError(t, st.SetLastActiveConversation("c1"))
	id, ok := st.LastActiveConversation()
	require.True(t, ok)
	assert.Equal(t, "c1", id)

	// Empty ID clears the entry.
	require.NoError(t, st.SetLastActiveConversation(""))
	_, ok = st.LastActiveConversation()
	assert.False(t, ok)
}

func TestBoltStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	st, err := OpenBoltState(path)
	require.NoError(t, err)
	require.NoError(t, st.SetLastActiveConversation("c1"))
	require.NoError(t, st.Close())

	st, err = OpenBoltState(path)
	require.NoError(t, err)
	defer st.Close()

	id, ok := st.LastActiveConversation()
	require.True(t, ok)
	assert.Equal(t, "c1", id)
}

func TestBoltStateIdentitySwitchClearsSelection(t *testing.T) {
	st := openTestState(t)

	require.NoError(t, st.SetIdentityHint("u1"))
	require.NoError(t, st.SetLastActiveConversation("c1"))

	// Same identity keeps the selection.
	require.NoError(t, st.SetIdentityHint("u1"))
	_, ok := st.LastActiveConversation()
	assert.True(t, ok)

	// A different identity must not inherit another user's selection.
	require.NoError(t, st.SetIdentityHint("u2"))
	_, ok = st.LastActiveConversation()
	assert.False(t, ok)

	hint, ok := st.IdentityHint()
	require.True(t, ok)
	assert.Equal(t, "u2", hint)
}
