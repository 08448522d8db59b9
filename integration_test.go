//go:build integration

package chatsync_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	chatsync "github.com/heliodesk/chatsync"
)

// helpers ---------------------------------------------------------------

func testToken(t *testing.T) string {
	t.Helper()
	token := os.Getenv("CHATSYNC_TOKEN_TEST")
	if token == "" {
		t.Fatal("CHATSYNC_TOKEN_TEST environment variable is required")
	}
	return token
}

func testBaseURL(t *testing.T) string {
	t.Helper()
	base := os.Getenv("CHATSYNC_BASE_URL_TEST")
	if base == "" {
		t.Fatal("CHATSYNC_BASE_URL_TEST environment variable is required")
	}
	return base
}

func testUserID(t *testing.T) string {
	t.Helper()
	id := os.Getenv("CHATSYNC_USER_TEST")
	if id == "" {
		t.Fatal("CHATSYNC_USER_TEST environment variable is required")
	}
	return id
}

func testPeerID(t *testing.T) string {
	t.Helper()
	id := os.Getenv("CHATSYNC_PEER_TEST")
	if id == "" {
		t.Skip("CHATSYNC_PEER_TEST not set; skipping tests that need a second user")
	}
	return id
}

func newLiveClient(t *testing.T) *chatsync.Client {
	t.Helper()
	return chatsync.NewClient(testBaseURL(t), testToken(t))
}

func uniqueContent(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// =======================================================================
// REST round trips
// =======================================================================

func TestIntegrationConversationList(t *testing.T) {
	client := newLiveClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convs, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	deduped := chatsync.Dedupe(convs)
	if len(deduped) > len(convs) {
		t.Fatalf("dedupe grew the list: %d -> %d", len(convs), len(deduped))
	}
}

func TestIntegrationSendEditDelete(t *testing.T) {
	client := newLiveClient(t)
	peer := testPeerID(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conv, err := client.CreateConversation(ctx, chatsync.CreateConversationSpec{
		Participants: []string{testUserID(t), peer},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	msg, err := client.SendMessage(ctx, conv.ID, uniqueContent("integration"), nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.Local() {
		t.Fatalf("server returned a placeholder ID: %s", msg.ID)
	}

	edited, err := client.EditMessage(ctx, conv.ID, msg.ID, uniqueContent("edited"))
	if err != nil {
		t.Fatalf("edit message: %v", err)
	}
	if !edited.Edited {
		t.Error("edited flag not set on edited message")
	}

	if err := client.DeleteMessage(ctx, conv.ID, msg.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}

	hist, err := client.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	for _, m := range hist.Messages {
		if m.ID == msg.ID {
			t.Errorf("deleted message %s still present in history", msg.ID)
		}
	}
}

// =======================================================================
// Realtime
// =======================================================================

func TestIntegrationRealtimeConnect(t *testing.T) {
	conn := chatsync.NewConn(testBaseURL(t), &chatsync.ConnConfig{
		ConnectDelay: 100 * time.Millisecond,
	})

	live := make(chan bool, 4)
	conn.OnLive(func(b bool) { live <- b })

	conn.Connect(context.Background(), chatsync.Identity{
		UserID: testUserID(t),
		Token:  testToken(t),
	})
	defer conn.Disconnect()

	select {
	case up := <-live:
		if !up {
			t.Fatal("first live signal was a disconnect")
		}
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for the connection to come up")
	}

	if !conn.Live() {
		t.Error("Live() false after live signal")
	}
}
