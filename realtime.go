package chatsync

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// Envelope is the wire format for all realtime events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type command struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound event names.
const (
	eventNewMessage      = "newMessage"
	eventUserTyping      = "userTyping"
	eventMessageRead     = "messageRead"
	eventPresenceChanged = "presenceChanged"
)

// Outbound event names. There is deliberately no client-emitted "send": the
// REST call is the authoritative send path and the server fans the persisted
// message back out, including to the sender's other sessions.
const (
	eventJoinConversation  = "joinConversation"
	eventLeaveConversation = "leaveConversation"
	eventTyping            = "typing"
	eventMarkRead          = "markAsRead"
)

// NewMessageEvent is sent when a message is persisted in a joined conversation.
type NewMessageEvent struct {
	Message Message `json:"message"`
}

// TypingEvent is sent when a user starts or stops typing.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// MessageReadEvent is sent when a user marks a conversation as read.
type MessageReadEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// PresenceEvent is sent when a user's presence changes.
type PresenceEvent struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	CustomStatus string         `json:"customStatus,omitempty"`
	LastSeen     time.Time      `json:"lastSeen,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// Identity scopes a connection to a signed-in user. The token is carried as
// a query-string parameter at handshake time.
type Identity struct {
	UserID string
	Token  string
}

// ConnState is the process-wide connection state, owned exclusively by the
// Conn; every other component only reads it.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ConnConfig configures the connection manager.
type ConnConfig struct {
	// ConnectDelay postpones the dial after Connect so a connection that is
	// immediately superseded by fast navigation never opens. Default 1s.
	ConnectDelay time.Duration
	// MaxAttempts bounds dial retries per connect cycle. Default 5.
	MaxAttempts int
	// RetryDelay is the pause between dial attempts. Default 1s.
	RetryDelay time.Duration
	// DisableFallback turns off the SSE receive-only fallback transport.
	DisableFallback bool
	// HTTPClient serves the fallback transport. Default http.DefaultClient.
	HTTPClient *http.Client
}

func (c *ConnConfig) defaults() {
	if c.ConnectDelay == 0 {
		c.ConnectDelay = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

type dispatcher struct {
	mu            sync.RWMutex
	onLive        []func(bool)
	onNewMessage  []func(Message)
	onTyping      []func(TypingEvent)
	onMessageRead []func(MessageReadEvent)
	onPresence    []func(PresenceEvent)
}

// dispatch runs handlers synchronously so inbound events are applied in
// delivery order. Handlers must not block.
func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case eventNewMessage:
		var p NewMessageEvent
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNewMessage {
				h(p.Message)
			}
		}
	case eventUserTyping:
		var p TypingEvent
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case eventMessageRead:
		var p MessageReadEvent
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageRead {
				h(p)
			}
		}
	case eventPresenceChanged:
		var p PresenceEvent
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onPresence {
				h(p)
			}
		}
	}
}

func (d *dispatcher) emitLive(live bool) {
	d.mu.RLock()
	handlers := append([]func(bool){}, d.onLive...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(live)
	}
}

// ============================================================================
// Conn
// ============================================================================

// Conn owns the single live event-stream connection for a signed-in identity.
// No other component may open or close it; everything else either sends
// through the fire-and-forget methods or reads the derived live signal.
type Conn struct {
	baseURL    string
	config     ConnConfig
	dispatcher *dispatcher

	mu       sync.Mutex
	state    ConnState
	identity Identity
	ws       *websocket.Conn
	cancel   context.CancelFunc
	gen      int
}

// NewConn creates a connection manager for the given backend base URL.
func NewConn(baseURL string, config *ConnConfig) *Conn {
	var cfg ConnConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Conn{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     cfg,
		state:      StateDisconnected,
		dispatcher: &dispatcher{},
	}
}

// OnLive registers a handler for the connected/disconnected boolean signal.
func (c *Conn) OnLive(h func(bool)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onLive = append(c.dispatcher.onLive, h)
	c.dispatcher.mu.Unlock()
}

// OnNewMessage registers a handler for inbound messages.
func (c *Conn) OnNewMessage(h func(Message)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onNewMessage = append(c.dispatcher.onNewMessage, h)
	c.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for inbound typing signals.
func (c *Conn) OnTyping(h func(TypingEvent)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onTyping = append(c.dispatcher.onTyping, h)
	c.dispatcher.mu.Unlock()
}

// OnMessageRead registers a handler for read receipts.
func (c *Conn) OnMessageRead(h func(MessageReadEvent)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onMessageRead = append(c.dispatcher.onMessageRead, h)
	c.dispatcher.mu.Unlock()
}

// OnPresence registers a handler for presence changes.
func (c *Conn) OnPresence(h func(PresenceEvent)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onPresence = append(c.dispatcher.onPresence, h)
	c.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Live reports whether the connection is established.
func (c *Conn) Live() bool {
	return c.State() == StateConnected
}

// Connect establishes the connection for identity after the configured settle
// delay. Calling it while already connecting or connected for the same
// identity is a no-op; a different identity tears the previous connection
// down first. After the retry budget is exhausted the Conn stays disconnected
// until the next explicit Connect.
func (c *Conn) Connect(ctx context.Context, identity Identity) {
	c.mu.Lock()
	if c.identity.UserID == identity.UserID && c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	active := c.state != StateDisconnected
	c.mu.Unlock()

	if active {
		c.Disconnect()
	}

	c.mu.Lock()
	c.identity = identity
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, gen, identity)
}

// Disconnect closes the connection unconditionally. Safe to call repeatedly
// and while already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	ws := c.ws
	c.ws = nil
	wasLive := c.state == StateConnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasLive {
		c.dispatcher.emitLive(false)
	}
}

// ── Outbound, fire-and-forget ──────────────────────────────────────────
//
// No acknowledgement contract exists at this layer; confirmations, if any,
// arrive as separate inbound events consumed by the Store.

func (c *Conn) JoinConversation(conversationID string) {
	c.emit(eventJoinConversation, map[string]string{
		"conversationId": conversationID,
		"userId":         c.userID(),
	})
}

func (c *Conn) LeaveConversation(conversationID string) {
	c.emit(eventLeaveConversation, map[string]string{
		"conversationId": conversationID,
	})
}

func (c *Conn) Typing(conversationID string, isTyping bool) {
	c.emit(eventTyping, TypingEvent{
		ConversationID: conversationID,
		UserID:         c.userID(),
		IsTyping:       isTyping,
	})
}

func (c *Conn) MarkRead(conversationID string) {
	c.emit(eventMarkRead, map[string]string{
		"conversationId": conversationID,
		"userId":         c.userID(),
	})
}

func (c *Conn) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.UserID
}

// emit drops the event when not connected or when riding the receive-only
// fallback transport. Dropped signals are self-healing at the caller layer.
func (c *Conn) emit(eventType string, payload interface{}) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}

	data, err := json.Marshal(command{Type: eventType, Payload: payload})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ws.Write(ctx, websocket.MessageText, data)
}

// ── Connection lifecycle ───────────────────────────────────────────────

func (c *Conn) run(ctx context.Context, gen int, identity Identity) {
	if !sleepCtx(ctx, c.config.ConnectDelay) {
		return
	}
	for {
		established := c.connectCycle(ctx, gen, identity)
		if !established || ctx.Err() != nil {
			c.markDisconnected(gen)
			return
		}
		// A live session dropped: start over with a fresh retry budget.
		if !c.markConnecting(gen) {
			return
		}
	}
}

// connectCycle runs one full retry budget. It returns true if a session was
// established at some point (and has since ended), false if every attempt
// failed.
func (c *Conn) connectCycle(ctx context.Context, gen int, identity Identity) bool {
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, c.config.RetryDelay) {
			return false
		}

		if ws, _, err := websocket.Dial(ctx, c.wsURL(identity.Token), nil); err == nil {
			if !c.setConnected(gen, ws) {
				ws.Close(websocket.StatusNormalClosure, "superseded")
				return false
			}
			c.readLoopWS(ctx, gen, ws)
			return true
		}

		if c.config.DisableFallback {
			continue
		}
		if resp, err := c.dialSSE(ctx, identity.Token); err == nil {
			if !c.setConnected(gen, nil) {
				resp.Body.Close()
				return false
			}
			c.readLoopSSE(ctx, gen, resp)
			return true
		}
	}
	return false
}

func (c *Conn) wsURL(token string) string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + token
}

func (c *Conn) dialSSE(ctx context.Context, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/events?token="+token, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{Code: "FALLBACK_REJECTED", Message: resp.Status}
	}
	return resp, nil
}

// setConnected installs the session unless a newer Connect/Disconnect has
// superseded this one. ws is nil for the receive-only fallback.
func (c *Conn) setConnected(gen int, ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	c.dispatcher.emitLive(true)
	return true
}

func (c *Conn) markConnecting(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.ws = nil
	c.state = StateConnecting
	return true
}

func (c *Conn) markDisconnected(gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Conn) readLoopWS(ctx context.Context, gen int, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && c.currentGen() == gen {
				// Unintentional drop; explicit teardown signals on its own.
				c.dispatcher.emitLive(false)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatcher.dispatch(env)
	}
}

func (c *Conn) readLoopSSE(ctx context.Context, gen int, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, ":") {
			continue // heartbeat comment
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var env Envelope
			if json.Unmarshal([]byte(data), &env) == nil {
				c.dispatcher.dispatch(env)
			}
		}
	}

	if ctx.Err() == nil && c.currentGen() == gen {
		c.dispatcher.emitLive(false)
	}
}

func (c *Conn) currentGen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
