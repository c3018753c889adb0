package typing

import (
	"sync"
	"time"

	"messaging-service/internal/models"
)

type key struct {
	chatID int
	userID int
}

type entry struct {
	active        bool
	lastUpdatedAt time.Time
}

// Tracker holds ephemeral per-chat typing state. It is cache-grade: nothing
// here is persisted, and entries expire on their own when unrefreshed.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]entry

	activeWindow time.Duration
	sweepMaxAge  time.Duration
	now          func() time.Time
}

// NewTracker builds a tracker. activeWindow bounds how long an unrefreshed
// entry still reads as active; sweepMaxAge is the harder limit the periodic
// sweep enforces against clients that never send stop.
func NewTracker(activeWindow, sweepMaxAge time.Duration) *Tracker {
	return &Tracker{
		entries:      make(map[key]entry),
		activeWindow: activeWindow,
		sweepMaxAge:  sweepMaxAge,
		now:          time.Now,
	}
}

// Start marks the user as typing in the chat and refreshes the timestamp.
func (t *Tracker) Start(chatID, userID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key{chatID, userID}] = entry{active: true, lastUpdatedAt: t.now()}
}

// Stop marks the user inactive immediately.
func (t *Tracker) Stop(chatID, userID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key{chatID, userID}]; ok {
		e.active = false
		e.lastUpdatedAt = t.now()
		t.entries[key{chatID, userID}] = e
	}
}

// ActiveTypers returns who is typing in the chat right now. Entries older
// than the active window flip to inactive lazily before the read.
func (t *Tracker) ActiveTypers(chatID int) []models.TypingIndicator {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var active []models.TypingIndicator
	for k, e := range t.entries {
		if k.chatID != chatID {
			continue
		}
		if e.active && now.Sub(e.lastUpdatedAt) > t.activeWindow {
			e.active = false
			t.entries[k] = e
		}
		if e.active {
			active = append(active, models.TypingIndicator{
				ChatID:        k.chatID,
				UserID:        k.userID,
				IsActive:      true,
				LastUpdatedAt: e.lastUpdatedAt,
			})
		}
	}
	return active
}

// Snapshot returns the active typers across all of the given chats.
func (t *Tracker) Snapshot(chatIDs []int) []models.TypingIndicator {
	var out []models.TypingIndicator
	for _, id := range chatIDs {
		out = append(out, t.ActiveTypers(id)...)
	}
	return out
}

// Sweep flips every entry older than the sweep age to inactive and drops
// long-inactive entries. Returns how many entries were expired. Safe to run
// concurrently with Start/Stop.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	expired := 0
	for k, e := range t.entries {
		age := now.Sub(e.lastUpdatedAt)
		if e.active && age > t.sweepMaxAge {
			e.active = false
			t.entries[k] = e
			expired++
		}
		if !e.active && age > 2*t.sweepMaxAge {
			delete(t.entries, k)
		}
	}
	return expired
}
