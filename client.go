// Package chatsync keeps a local chat view consistent with a remote backend:
// a REST persistence client, a realtime connection manager with reconnect,
// conversation identity resolution, an optimistic reconciliation store, a
// presence tracker and a typing relay.
//
// Example:
//
//	client := chatsync.NewClient("https://crm.example.com", "jwt-token")
//	store := chatsync.NewStore(client, "user-1")
//	_ = store.LoadConversationList(ctx)
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ChatAPI is the persistence collaborator consumed by the Store. *Client is
// the production implementation; tests substitute fakes.
type ChatAPI interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*ConversationHistory, error)
	CreateConversation(ctx context.Context, spec CreateConversationSpec) (*Conversation, error)
	SendMessage(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	MarkAsRead(ctx context.Context, conversationID string) error
}

// ConversationHistory is a conversation with its embedded message history,
// as returned by the get-conversation endpoint.
type ConversationHistory struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the chat backend. Safe for concurrent use;
// the token may be swapped at any time with SetToken.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a chat backend client. token may be empty and set later
// with SetToken once the user signs in.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or replaces the auth token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// do issues a request and unwraps the Result envelope. A response with
// ok=false is returned as the embedded *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request rejected by server")
	}
	return &result, nil
}

// ============================================================================
// ChatAPI implementation
// ============================================================================

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	result, err := c.do(ctx, "GET", "/api/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := result.Decode(&convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (*ConversationHistory, error) {
	result, err := c.do(ctx, "GET", "/api/chats/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	var hist ConversationHistory
	if err := result.Decode(&hist); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &hist, nil
}

func (c *Client) CreateConversation(ctx context.Context, spec CreateConversationSpec) (*Conversation, error) {
	result, err := c.do(ctx, "POST", "/api/chats", spec, nil)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := result.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode created conversation: %w", err)
	}
	return &conv, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error) {
	payload := map[string]interface{}{"content": content}
	if opts != nil && opts.ParentID != "" {
		payload["parentId"] = opts.ParentID
	}
	result, err := c.do(ctx, "POST", "/api/chats/"+conversationID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode sent message: %w", err)
	}
	return &msg, nil
}

func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error) {
	result, err := c.do(ctx, "PATCH", "/api/chats/"+conversationID+"/messages/"+messageID,
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode edited message: %w", err)
	}
	return &msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := c.do(ctx, "DELETE", "/api/chats/"+conversationID+"/messages/"+messageID, nil, nil)
	return err
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, "POST", "/api/chats/"+conversationID+"/read", nil, nil)
	return err
}
