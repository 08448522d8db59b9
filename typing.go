package chatsync

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingDebounce is how long after the last keystroke a stopped-typing
// signal is emitted if no explicit stop arrived.
const DefaultTypingDebounce = 2 * time.Second

// TypingRelay debounces local typing state outward and collects inbound
// typing signals per conversation. Outward signals are fire-and-forget: a
// dropped one self-heals on the next debounce cycle or is cleared when the
// conversation is deselected.
type TypingRelay struct {
	send     func(conversationID string, isTyping bool)
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	active map[string]bool
	remote map[string]map[string]bool
	closed bool
}

// NewTypingRelay creates a relay emitting through send, typically
// (*Conn).Typing. A zero debounce means DefaultTypingDebounce.
func NewTypingRelay(send func(conversationID string, isTyping bool), debounce time.Duration) *TypingRelay {
	if debounce == 0 {
		debounce = DefaultTypingDebounce
	}
	return &TypingRelay{
		send:     send,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		active:   make(map[string]bool),
		remote:   make(map[string]map[string]bool),
	}
}

// NotifyTyping is called on every local input change. An is-typing signal
// goes out at most once per continuous burst; a stopped-typing signal goes
// out on explicit stop or automatically once input ceases for the debounce
// window.
func (r *TypingRelay) NotifyTyping(conversationID string, isTyping bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if !isTyping {
		wasActive := r.active[conversationID]
		r.stopLocked(conversationID)
		r.mu.Unlock()
		if wasActive {
			r.send(conversationID, false)
		}
		return
	}

	first := !r.active[conversationID]
	r.active[conversationID] = true

	if t, ok := r.timers[conversationID]; ok {
		t.Reset(r.debounce)
	} else {
		r.timers[conversationID] = time.AfterFunc(r.debounce, func() {
			r.expire(conversationID)
		})
	}
	r.mu.Unlock()

	if first {
		r.send(conversationID, true)
	}
}

// expire fires when the debounce window closes without further keystrokes.
// The emission happens under the lock: a timer that loses the race with Close
// must not let a stopped-typing signal escape after teardown.
func (r *TypingRelay) expire(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.active[conversationID] {
		return
	}
	r.stopLocked(conversationID)
	r.send(conversationID, false)
}

func (r *TypingRelay) stopLocked(conversationID string) {
	if t, ok := r.timers[conversationID]; ok {
		t.Stop()
		delete(r.timers, conversationID)
	}
	delete(r.active, conversationID)
}

// HandleRemote consumes an inbound typing signal from another user.
func (r *TypingRelay) HandleRemote(ev TypingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.remote[ev.ConversationID]
	if ev.IsTyping {
		if set == nil {
			set = make(map[string]bool)
			r.remote[ev.ConversationID] = set
		}
		set[ev.UserID] = true
		return
	}
	delete(set, ev.UserID)
}

// TypingUsers returns the users currently typing in a conversation, sorted.
func (r *TypingRelay) TypingUsers(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.remote[conversationID]
	if len(set) == 0 {
		return nil
	}
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Deselect clears conversation-scoped state when the user navigates away: an
// active local burst ends with one final stop signal while the conversation
// is still joined, and the remote typing set is dropped.
func (r *TypingRelay) Deselect(conversationID string) {
	r.mu.Lock()
	wasActive := r.active[conversationID]
	r.stopLocked(conversationID)
	delete(r.remote, conversationID)
	r.mu.Unlock()

	if wasActive {
		r.send(conversationID, false)
	}
}

// Close cancels all pending timers without emitting, so a stopped-typing
// signal is never sent for a context that no longer exists.
func (r *TypingRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.active = make(map[string]bool)
	r.remote = make(map[string]map[string]bool)
}
