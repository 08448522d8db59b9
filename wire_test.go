package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end wiring: events flowing over a live websocket land in the store,
// the presence tracker and the typing relay.
func TestWire(t *testing.T) {
	h := newWSHarness(t)

	api := newFakeAPI()
	api.convs = []Conversation{dm("c1", "self", "bob"), dm("c2", "self", "carol")}
	api.histories["c1"] = &ConversationHistory{Conversation: dm("c1", "self", "bob")}
	api.histories["c2"] = &ConversationHistory{Conversation: dm("c2", "self", "carol")}

	conn := NewConn(h.srv.URL, fastConnConfig())
	store := NewStore(api, "self", WithTransport(conn))
	presence := NewPresenceTracker("self")
	typing := NewTypingRelay(conn.Typing, 0)
	defer typing.Close()
	Wire(conn, store, presence, typing)

	up := make(chan bool, 4)
	store.Notifier().On(EventConnectionUp, func(string, any) { up <- true })

	require.NoError(t, store.LoadConversationList(context.Background()))

	conn.Connect(context.Background(), Identity{UserID: "self", Token: "tok-1"})
	defer conn.Disconnect()
	recv(t, up)

	rec, ok := presence.StatusOf("self")
	require.True(t, ok)
	assert.Equal(t, PresenceOnline, rec.Status)

	sess := h.waitSession(t, 1)

	sess.push(t, eventNewMessage, NewMessageEvent{
		Message: msgAt("m1", "c1", "bob", "hi", baseTime),
	})
	require.Eventually(t, func() bool {
		return len(store.Messages("c1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.Conversations()[0].UnreadCount)

	sess.push(t, eventUserTyping, TypingEvent{ConversationID: "c1", UserID: "bob", IsTyping: true})
	require.Eventually(t, func() bool {
		return len(typing.TypingUsers("c1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sess.push(t, eventPresenceChanged, PresenceEvent{UserID: "bob", Status: PresenceBusy})
	require.Eventually(t, func() bool {
		rec, ok := presence.StatusOf("bob")
		return ok && rec.Status == PresenceBusy
	}, 2*time.Second, 10*time.Millisecond)

	sess.push(t, eventMessageRead, MessageReadEvent{ConversationID: "c1", UserID: "self"})
	require.Eventually(t, func() bool {
		return store.Conversations()[0].UnreadCount == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Moving the selection away drops the previous conversation's typing
	// indicators via the wired deselect hook.
	require.NoError(t, store.SelectConversation(context.Background(), "c1"))
	require.Len(t, typing.TypingUsers("c1"), 1)
	require.NoError(t, store.SelectConversation(context.Background(), "c2"))
	assert.Empty(t, typing.TypingUsers("c1"))
}
