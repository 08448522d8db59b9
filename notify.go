package chatsync

import "sync"

// Side-channel notifications. Collaborator failures never propagate to the
// rendering layer as panics or unhandled errors; they surface here as
// transient events (the toast/snackbar channel) alongside sentinel results.

// Notification event names.
const (
	EventConnectionUp   = "connection.up"
	EventConnectionDown = "connection.down"
	EventListError      = "list.error"
	EventMessagesError  = "messages.error"
	EventSendFailed     = "send.failed"
	EventEditFailed     = "edit.failed"
	EventDeleteFailed   = "delete.failed"
	EventCreateFailed   = "create.failed"
)

// NotificationHandler receives a notification event and its payload.
type NotificationHandler func(event string, payload any)

// Notifier fans notification events out to registered handlers. Handler
// panics are swallowed so a broken listener cannot take the sync core down.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[string][]NotificationHandler
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[string][]NotificationHandler)}
}

// On registers a handler for one event name. "*" subscribes to every event.
func (n *Notifier) On(event string, handler NotificationHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[event] = append(n.listeners[event], handler)
}

func (n *Notifier) emit(event string, payload any) {
	n.mu.RLock()
	handlers := append([]NotificationHandler{}, n.listeners[event]...)
	handlers = append(handlers, n.listeners["*"]...)
	n.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(event, payload)
		}()
	}
}
