package chatsync

import (
	"time"

	"github.com/c-pro/geche"
)

// PresenceTracker owns the canonical presence records. Unknown users are
// reported as unknown — callers must not assume online for a user that was
// never observed; rendering an absent record as online is a display bug, not
// a tracker default.
type PresenceTracker struct {
	self    string
	records *geche.Locker[string, *PresenceRecord]
	now     func() time.Time
}

// NewPresenceTracker creates a tracker for the given local identity.
func NewPresenceTracker(selfID string) *PresenceTracker {
	return &PresenceTracker{
		self:    selfID,
		records: geche.NewLocker[string, *PresenceRecord](geche.NewMapCache[string, *PresenceRecord]()),
		now:     time.Now,
	}
}

// StatusOf returns the presence record for userID. ok is false when the user
// has never been observed.
func (p *PresenceTracker) StatusOf(userID string) (PresenceRecord, bool) {
	tx := p.records.RLock()
	defer tx.Unlock()
	rec, err := tx.Get(userID)
	if err != nil {
		return PresenceRecord{}, false
	}
	return *rec, true
}

// SetStatus replaces the status of userID, stamping last-seen when the user
// goes offline. Records are created on first observation and never deleted.
func (p *PresenceTracker) SetStatus(userID string, status PresenceStatus) {
	tx := p.records.Lock()
	defer tx.Unlock()
	p.setLocked(tx, userID, status, "", time.Time{})
}

// Apply consumes an inbound presence event, replacing status and, when
// present, custom status and last-seen.
func (p *PresenceTracker) Apply(ev PresenceEvent) {
	tx := p.records.Lock()
	defer tx.Unlock()
	p.setLocked(tx, ev.UserID, ev.Status, ev.CustomStatus, ev.LastSeen)
}

// HandleLive tracks the connection manager's live signal for the local
// identity: online on connect, offline with a fresh last-seen on disconnect.
func (p *PresenceTracker) HandleLive(live bool) {
	status := PresenceOffline
	if live {
		status = PresenceOnline
	}
	p.SetStatus(p.self, status)
}

func (p *PresenceTracker) setLocked(tx *geche.Tx[string, *PresenceRecord], userID string, status PresenceStatus, custom string, lastSeen time.Time) {
	rec, err := tx.Get(userID)
	if err != nil {
		rec = &PresenceRecord{UserID: userID}
	}
	rec.Status = status
	if custom != "" {
		rec.CustomStatus = custom
	}
	switch {
	case !lastSeen.IsZero():
		rec.LastSeen = lastSeen
	case status == PresenceOffline:
		rec.LastSeen = p.now()
	}
	tx.Set(userID, rec)
}
