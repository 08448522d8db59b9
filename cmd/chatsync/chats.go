package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chatsync "github.com/heliodesk/chatsync"
	"github.com/spf13/cobra"
)

var (
	chatsListJSON     bool
	chatsMessagesJSON bool
	sendParentID      string
)

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Work with conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		cfg := mustConfig()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convs, err := client.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		convs = chatsync.Dedupe(convs)

		if chatsListJSON {
			data, err := json.MarshalIndent(convs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, conv := range convs {
			name := conv.DisplayName(cfg.Auth.UserID)
			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
			}
			preview := ""
			if conv.LastMessage != nil {
				preview = conv.LastMessage.Content
			}
			fmt.Printf("%s  %s%s\n", conv.ID, name, unread)
			if preview != "" {
				fmt.Printf("    last: %s\n", preview)
			}
		}
		return nil
	},
}

var chatsMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		hist, err := client.GetConversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatsMessagesJSON {
			data, err := json.MarshalIndent(hist.Messages, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(hist.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range hist.Messages {
			edited := ""
			if msg.Edited {
				edited = " (edited)"
			}
			fmt.Printf("[%s] %s: %s%s\n", msg.CreatedAt.Format(time.RFC3339), msg.SenderID, msg.Content, edited)
		}
		return nil
	},
}

// ============================================================================
// send / edit / delete / read
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *chatsync.SendOptions
		if sendParentID != "" {
			opts = &chatsync.SendOptions{ParentID: sendParentID}
		}

		msg, err := client.SendMessage(ctx, args[0], args[1], opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to conversation %s\n", msg.ConversationID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <content>",
	Short: "Edit a previously sent message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.EditMessage(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message %s updated\n", msg.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete a previously sent message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.DeleteMessage(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message %s deleted\n", args[1])
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkAsRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %s marked as read\n", args[0])
		return nil
	},
}

func init() {
	chatsListCmd.Flags().BoolVar(&chatsListJSON, "json", false, "Output raw JSON")
	chatsMessagesCmd.Flags().BoolVar(&chatsMessagesJSON, "json", false, "Output raw JSON")
	sendCmd.Flags().StringVar(&sendParentID, "reply-to", "", "Parent message ID for a threaded reply")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsMessagesCmd)

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(readCmd)
}
