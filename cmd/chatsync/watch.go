package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatsync "github.com/heliodesk/chatsync"
	"github.com/spf13/cobra"
)

var watchConversation string

func init() {
	watchCmd.Flags().StringVar(&watchConversation, "conversation", "", "Select a conversation on startup (defaults to the last active one)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live messages, typing and presence to the terminal",
	Long:  "Connect to the realtime channel and print inbound messages, typing indicators,\nread receipts and presence changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		identity := getIdentity()
		client := getClient()

		state, err := openState(cfg)
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		defer state.Close()
		if err := state.SetIdentityHint(identity.UserID); err != nil {
			return fmt.Errorf("record identity: %w", err)
		}

		conn := chatsync.NewConn(cfg.Default.BaseURL, nil)
		store := chatsync.NewStore(client, identity.UserID,
			chatsync.WithTransport(conn),
			chatsync.WithStateStore(state),
		)
		presence := chatsync.NewPresenceTracker(identity.UserID)
		typing := chatsync.NewTypingRelay(conn.Typing, 0)
		chatsync.Wire(conn, store, presence, typing)

		store.Notifier().On("*", func(event string, data interface{}) {
			if data == nil {
				fmt.Printf("-- %s\n", event)
				return
			}
			fmt.Printf("-- %s: %v\n", event, data)
		})
		conn.OnNewMessage(func(msg chatsync.Message) {
			fmt.Printf("[%s] %s %s: %s\n",
				msg.CreatedAt.Format(time.RFC3339), msg.ConversationID, msg.SenderID, msg.Content)
		})
		conn.OnTyping(func(ev chatsync.TypingEvent) {
			verb := "stopped typing"
			if ev.IsTyping {
				verb = "is typing"
			}
			fmt.Printf(".. %s %s in %s\n", ev.UserID, verb, ev.ConversationID)
		})
		conn.OnPresence(func(ev chatsync.PresenceEvent) {
			fmt.Printf(".. %s is now %s\n", ev.UserID, ev.Status)
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		conn.Connect(ctx, identity)
		defer conn.Disconnect()

		if err := store.LoadConversationList(ctx); err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}

		switch {
		case watchConversation != "":
			if err := store.SelectConversation(ctx, watchConversation); err != nil {
				return fmt.Errorf("select conversation: %w", err)
			}
			fmt.Printf("Watching conversation %s\n", watchConversation)
		default:
			if id, ok := store.RestoreLastActive(ctx); ok {
				fmt.Printf("Watching conversation %s (restored)\n", id)
			}
		}

		fmt.Printf("Connected as %s. Press Ctrl-C to stop.\n", identity.UserID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nDisconnecting...")
		return nil
	},
}
