package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// States
// ============================================================================

// ListState is the loading state of the top-level conversation list.
type ListState string

const (
	ListLoading ListState = "listLoading"
	ListLoaded  ListState = "listLoaded"
)

// LoadState is the per-conversation message loading state.
type LoadState string

const (
	LoadUnloaded LoadState = "unloaded"
	LoadLoading  LoadState = "loading"
	LoadLoaded   LoadState = "loaded"
	LoadError    LoadState = "error"
)

// ============================================================================
// Collaborator contracts
// ============================================================================

// Transport is the outbound slice of the connection manager the Store needs.
// All methods are fire-and-forget.
type Transport interface {
	JoinConversation(conversationID string)
	LeaveConversation(conversationID string)
	MarkRead(conversationID string)
}

type nopTransport struct{}

func (nopTransport) JoinConversation(string)  {}
func (nopTransport) LeaveConversation(string) {}
func (nopTransport) MarkRead(string)          {}

// StateStore persists client-local UI state across reloads. Setting the
// last-active conversation to "" clears it.
type StateStore interface {
	LastActiveConversation() (string, bool)
	SetLastActiveConversation(conversationID string) error
}

// ============================================================================
// Store
// ============================================================================

// Store is the reconciliation state machine: it exclusively owns the
// in-memory conversations and messages and merges REST snapshots, live
// inbound events and local optimistic mutations into one consistent view.
// All mutation funnels through its operations so ordering and identity
// invariants are enforced in one place; callers get copies.
type Store struct {
	api       ChatAPI
	self      string
	transport Transport
	notifier  *Notifier
	state     StateStore

	mu            sync.Mutex
	conversations []Conversation
	listState     ListState
	messages      map[string][]Message
	loadState     map[string]LoadState
	fetchSeq      map[string]uint64
	active        string
	onDeselect    func(conversationID string)

	flights singleflight.Group
	refresh sync.WaitGroup

	now   func() time.Time
	newID func() string
}

type StoreOption func(*Store)

// WithTransport wires the store's join/leave/mark-read side effects to a
// connection manager.
func WithTransport(t Transport) StoreOption {
	return func(s *Store) { s.transport = t }
}

// WithNotifier replaces the store's notification channel.
func WithNotifier(n *Notifier) StoreOption {
	return func(s *Store) { s.notifier = n }
}

// WithStateStore enables persistence of the last-active conversation.
func WithStateStore(st StateStore) StoreOption {
	return func(s *Store) { s.state = st }
}

// NewStore creates a reconciliation store for the given local identity.
func NewStore(api ChatAPI, selfID string, opts ...StoreOption) *Store {
	s := &Store{
		api:       api,
		self:      selfID,
		transport: nopTransport{},
		notifier:  NewNotifier(),
		listState: ListLoading,
		messages:  make(map[string][]Message),
		loadState: make(map[string]LoadState),
		fetchSeq:  make(map[string]uint64),
		now:       time.Now,
		newID:     func() string { return localIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notifier returns the store's side-channel notification emitter.
func (s *Store) Notifier() *Notifier {
	return s.notifier
}

// OnDeselect registers a hook invoked with the previously active conversation
// whenever selection moves away from it, so conversation-scoped collaborator
// state (typing bursts, indicator sets) is cleared without the rendering
// layer having to remember to do it.
func (s *Store) OnDeselect(h func(conversationID string)) {
	s.mu.Lock()
	s.onDeselect = h
	s.mu.Unlock()
}

// ── Read-only views ──────────────────────────────────────────────────────

// Conversations returns a copy of the deduplicated conversation list.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.conversations...)
}

// ListState returns the loading state of the conversation list.
func (s *Store) ListState() ListState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listState
}

// Messages returns a copy of one conversation's ordered message sequence.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[conversationID]...)
}

// MessagesState returns the loading state of one conversation's messages.
func (s *Store) MessagesState(conversationID string) LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.loadState[conversationID]; ok {
		return st
	}
	return LoadUnloaded
}

// ActiveConversation returns the currently selected conversation ID.
func (s *Store) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ── Conversation list ────────────────────────────────────────────────────

// LoadConversationList fetches and replaces the conversation list. On failure
// the previous list stays intact and the error surfaces both as the return
// value and as a transient notification.
func (s *Store) LoadConversationList(ctx context.Context) error {
	s.mu.Lock()
	prev := s.listState
	s.listState = ListLoading
	s.mu.Unlock()

	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		s.mu.Lock()
		s.listState = prev
		s.mu.Unlock()
		s.notifier.emit(EventListError, err)
		return err
	}

	s.mu.Lock()
	s.conversations = Dedupe(convs)
	s.listState = ListLoaded
	s.mu.Unlock()
	return nil
}

// CreateConversation inserts an optimistic placeholder immediately and asks
// the server to confirm it. The confirmed entry is canonical: it takes the
// placeholder's slot by identity key instead of duplicating the thread. If a
// conversation with the same identity key already exists, that one is reused
// and no create is issued.
func (s *Store) CreateConversation(ctx context.Context, spec CreateConversationSpec) (*Conversation, error) {
	participants := make([]Participant, 0, len(spec.Participants)+1)
	hasSelf := false
	for _, id := range spec.Participants {
		if id == s.self {
			hasSelf = true
		}
		participants = append(participants, Participant{UserID: id})
	}
	if !hasSelf {
		participants = append(participants, Participant{UserID: s.self})
	}

	optimistic := Conversation{
		ID:           s.newID(),
		IsGroup:      spec.IsGroup,
		Title:        spec.Title,
		Participants: participants,
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	key := KeyOf(optimistic)
	if !optimistic.IsGroup {
		for i := range s.conversations {
			if KeyOf(s.conversations[i]) == key {
				existing := s.conversations[i]
				s.mu.Unlock()
				return &existing, nil
			}
		}
	}
	s.conversations = append(s.conversations, optimistic)
	s.mu.Unlock()

	confirmed, err := s.api.CreateConversation(ctx, spec)
	if err != nil {
		s.notifier.emit(EventCreateFailed, err)
		return nil, err
	}

	s.mu.Lock()
	// Replace the placeholder by its ID: groups are never keyed by
	// membership, so identity-key dedupe alone would keep both entries.
	replaced := false
	for i := range s.conversations {
		if s.conversations[i].ID == optimistic.ID {
			s.conversations[i] = *confirmed
			replaced = true
			break
		}
	}
	if !replaced {
		s.conversations = append(s.conversations, *confirmed)
	}
	s.conversations = Dedupe(s.conversations)
	// Carry any messages accumulated under the placeholder ID over to the
	// confirmed identifier.
	if pending, ok := s.messages[optimistic.ID]; ok {
		delete(s.messages, optimistic.ID)
		merged := append(pending, s.messages[confirmed.ID]...)
		sortMessages(merged)
		s.messages[confirmed.ID] = merged
	}
	if s.active == optimistic.ID {
		s.active = confirmed.ID
	}
	s.mu.Unlock()

	return confirmed, nil
}

// ── Messages ─────────────────────────────────────────────────────────────

// LoadMessages fetches one conversation's history and replaces that
// conversation's message array wholesale. Overlapping fetches for the same
// conversation are collapsed, and a response is only applied when it belongs
// to the latest issued fetch — a slow stale snapshot is discarded rather than
// allowed to regress a newer optimistic append. Success triggers the
// mark-read side effect.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.fetchSeq[conversationID]++
	seq := s.fetchSeq[conversationID]
	s.loadState[conversationID] = LoadLoading
	s.mu.Unlock()

	v, err, _ := s.flights.Do(conversationID, func() (interface{}, error) {
		return s.api.GetConversation(ctx, conversationID)
	})

	if err != nil {
		s.mu.Lock()
		if seq == s.fetchSeq[conversationID] {
			// Possibly-wrong stale content is worse than an empty state here.
			s.messages[conversationID] = []Message{}
			s.loadState[conversationID] = LoadError
		}
		s.mu.Unlock()
		s.notifier.emit(EventMessagesError, err)
		return err
	}

	hist := v.(*ConversationHistory)
	msgs := append([]Message(nil), hist.Messages...)
	sortMessages(msgs)

	s.mu.Lock()
	if seq != s.fetchSeq[conversationID] {
		s.mu.Unlock()
		return nil
	}
	s.messages[conversationID] = msgs
	s.loadState[conversationID] = LoadLoaded
	s.updateConversationLocked(hist.Conversation)
	s.clearUnreadLocked(conversationID)
	s.mu.Unlock()

	s.markRead(ctx, conversationID)
	return nil
}

// SendMessage appends an optimistic message before the network call is
// issued, then replaces it in place with the server-confirmed message. On
// failure the optimistic entry is retained — silently dropping it would make
// the message vanish — and authoritative state is re-fetched so the view
// reconverges.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error) {
	optimistic := Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       s.self,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if opts != nil && opts.ParentID != "" {
		parent := opts.ParentID
		optimistic.ParentID = &parent
	}

	s.mu.Lock()
	s.messages[conversationID] = append(s.messages[conversationID], optimistic)
	s.touchConversationLocked(optimistic)
	s.mu.Unlock()

	confirmed, err := s.api.SendMessage(ctx, conversationID, content, opts)
	if err != nil {
		s.notifier.emit(EventSendFailed, map[string]interface{}{
			"conversationId": conversationID,
			"localId":        optimistic.ID,
			"error":          err,
		})
		// Reconciliation-by-refetch; the optimistic entry survives until the
		// authoritative snapshot lands.
		_ = s.LoadMessages(ctx, conversationID)
		return nil, err
	}

	s.mu.Lock()
	s.replaceMessageLocked(conversationID, optimistic.ID, *confirmed)
	s.mu.Unlock()
	return confirmed, nil
}

// ReceiveInbound applies one live inbound message. A message from the local
// identity is ignored — it is already present via the optimistic path. A
// message for an unknown conversation inserts a placeholder entry immediately
// so the message is never orphaned, and refreshes the list asynchronously.
func (s *Store) ReceiveInbound(msg Message) {
	if msg.SenderID == s.self {
		return
	}

	s.mu.Lock()
	for _, existing := range s.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			s.mu.Unlock()
			return
		}
	}
	s.messages[msg.ConversationID] = insertOrdered(s.messages[msg.ConversationID], msg)

	known := false
	for i := range s.conversations {
		if s.conversations[i].ID == msg.ConversationID {
			known = true
			last := msg
			s.conversations[i].LastMessage = &last
			s.conversations[i].UpdatedAt = msg.CreatedAt
			if s.active != msg.ConversationID {
				s.conversations[i].UnreadCount++
			}
			break
		}
	}
	if !known {
		last := msg
		s.conversations = append(s.conversations, Conversation{
			ID: msg.ConversationID,
			Participants: []Participant{
				{UserID: s.self},
				{UserID: msg.SenderID},
			},
			LastMessage: &last,
			UnreadCount: 1,
			CreatedAt:   msg.CreatedAt,
		})
		s.refresh.Add(1)
		go func() {
			defer s.refresh.Done()
			_ = s.LoadConversationList(context.Background())
		}()
	}
	s.mu.Unlock()
}

// EditMessage mutates the message immediately (content replace, edited flag)
// and issues the edit command to the server; a failed command notifies and
// re-fetches authoritative state. Messages not yet server-confirmed are
// edited locally only.
func (s *Store) EditMessage(ctx context.Context, conversationID, messageID, content string) error {
	s.mu.Lock()
	found := false
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			msgs[i].Edited = true
			msgs[i].UpdatedAt = s.now()
			s.refreshLastMessageLocked(conversationID)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found || IsLocalID(messageID) {
		return nil
	}

	if _, err := s.api.EditMessage(ctx, conversationID, messageID, content); err != nil {
		s.notifier.emit(EventEditFailed, err)
		_ = s.LoadMessages(ctx, conversationID)
		return err
	}
	return nil
}

// DeleteMessage removes the message immediately and issues the delete
// command; a failed command notifies and re-fetches authoritative state.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	msgs := s.messages[conversationID]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			s.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			s.refreshLastMessageLocked(conversationID)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found || IsLocalID(messageID) {
		return nil
	}

	if err := s.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		s.notifier.emit(EventDeleteFailed, err)
		_ = s.LoadMessages(ctx, conversationID)
		return err
	}
	return nil
}

// ── Selection ────────────────────────────────────────────────────────────

// SelectConversation switches the active conversation: the previous one is
// left, the new one joined, the choice persisted, and messages loaded if not
// already. In-flight fetches for the deselected conversation are not
// cancelled; a late response still lands in that conversation's stored state.
func (s *Store) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.active
	if prev == conversationID {
		s.mu.Unlock()
		if s.MessagesState(conversationID) != LoadLoaded {
			return s.LoadMessages(ctx, conversationID)
		}
		return nil
	}
	s.active = conversationID
	deselect := s.onDeselect
	s.mu.Unlock()

	if prev != "" {
		s.transport.LeaveConversation(prev)
		if deselect != nil {
			deselect(prev)
		}
	}
	s.transport.JoinConversation(conversationID)

	if s.state != nil {
		_ = s.state.SetLastActiveConversation(conversationID)
	}

	if s.MessagesState(conversationID) != LoadLoaded {
		return s.LoadMessages(ctx, conversationID)
	}
	return nil
}

// RestoreLastActive re-selects the persisted last-active conversation, but
// only if it still exists in the freshly loaded list; a stale stored value is
// discarded.
func (s *Store) RestoreLastActive(ctx context.Context) (string, bool) {
	if s.state == nil {
		return "", false
	}
	stored, ok := s.state.LastActiveConversation()
	if !ok || stored == "" {
		return "", false
	}

	s.mu.Lock()
	exists := false
	for i := range s.conversations {
		if s.conversations[i].ID == stored {
			exists = true
			break
		}
	}
	s.mu.Unlock()

	if !exists {
		_ = s.state.SetLastActiveConversation("")
		return "", false
	}
	_ = s.SelectConversation(ctx, stored)
	return stored, true
}

// HandleMessageRead consumes an inbound read receipt. A receipt for the local
// identity (another session marked the conversation read) clears the unread
// badge; receipts for other users are a rendering concern.
func (s *Store) HandleMessageRead(ev MessageReadEvent) {
	if ev.UserID != s.self {
		return
	}
	s.mu.Lock()
	s.clearUnreadLocked(ev.ConversationID)
	s.mu.Unlock()
}

// WaitRefresh blocks until asynchronous list refreshes triggered by inbound
// messages for unknown conversations have settled.
func (s *Store) WaitRefresh() {
	s.refresh.Wait()
}

// ── Internals ────────────────────────────────────────────────────────────

func (s *Store) markRead(ctx context.Context, conversationID string) {
	// REST is authoritative; the event is advisory fan-out to other sessions.
	_ = s.api.MarkAsRead(ctx, conversationID)
	s.transport.MarkRead(conversationID)
}

func (s *Store) replaceMessageLocked(conversationID, localID string, confirmed Message) {
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == localID {
			msgs[i] = confirmed
			s.refreshLastMessageLocked(conversationID)
			return
		}
	}
	// A snapshot replaced the array mid-flight. Insert the confirmed message
	// unless the snapshot already contained it.
	for i := range msgs {
		if msgs[i].ID == confirmed.ID {
			return
		}
	}
	s.messages[conversationID] = insertOrdered(msgs, confirmed)
	s.refreshLastMessageLocked(conversationID)
}

func (s *Store) touchConversationLocked(msg Message) {
	for i := range s.conversations {
		if s.conversations[i].ID == msg.ConversationID {
			last := msg
			s.conversations[i].LastMessage = &last
			s.conversations[i].UpdatedAt = msg.CreatedAt
			return
		}
	}
}

func (s *Store) refreshLastMessageLocked(conversationID string) {
	msgs := s.messages[conversationID]
	for i := range s.conversations {
		if s.conversations[i].ID != conversationID {
			continue
		}
		if len(msgs) == 0 {
			s.conversations[i].LastMessage = nil
		} else {
			last := msgs[len(msgs)-1]
			s.conversations[i].LastMessage = &last
		}
		return
	}
}

func (s *Store) updateConversationLocked(conv Conversation) {
	if conv.ID == "" {
		return
	}
	for i := range s.conversations {
		if s.conversations[i].ID == conv.ID || KeyOf(s.conversations[i]) == KeyOf(conv) {
			unread := s.conversations[i].UnreadCount
			s.conversations[i] = conv
			s.conversations[i].UnreadCount = unread
			return
		}
	}
	s.conversations = append(s.conversations, conv)
}

func (s *Store) clearUnreadLocked(conversationID string) {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount = 0
			return
		}
	}
}

// insertOrdered keeps messages in non-decreasing creation-time order with
// ties broken by insertion order. Live events normally arrive at the tail;
// the stable re-sort is the defensive path for out-of-order delivery.
func insertOrdered(msgs []Message, msg Message) []Message {
	msgs = append(msgs, msg)
	if len(msgs) > 1 && msgs[len(msgs)-2].CreatedAt.After(msg.CreatedAt) {
		sortMessages(msgs)
	}
	return msgs
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// ============================================================================
// Wiring
// ============================================================================

// Wire connects the realtime event flow to the sync components: inbound
// messages and read receipts into the store, typing signals into the relay,
// presence changes into the tracker, the store's deselect hook into the
// relay, and the live signal into both the tracker (own status) and the
// store's notifier (offline indicator).
func Wire(conn *Conn, store *Store, presence *PresenceTracker, typing *TypingRelay) {
	conn.OnNewMessage(store.ReceiveInbound)
	conn.OnMessageRead(store.HandleMessageRead)
	conn.OnTyping(typing.HandleRemote)
	conn.OnPresence(presence.Apply)
	store.OnDeselect(typing.Deselect)
	conn.OnLive(func(live bool) {
		presence.HandleLive(live)
		if live {
			store.Notifier().emit(EventConnectionUp, nil)
		} else {
			store.Notifier().emit(EventConnectionDown, nil)
		}
	})
}
