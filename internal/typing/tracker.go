// Package typing tracks who is typing in the active channel. State is
// ephemeral: never persisted, cleared wholesale on channel switch.
package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultQuietWindow is how long an entry survives without a refresh.
const DefaultQuietWindow = 5 * time.Second

type entry struct {
	displayName string
	seen        time.Time
	timer       *time.Timer
}

// Tracker maintains the time-windowed typing map for one active channel.
// Timer callbacks and event-handler calls are serialized by the internal
// mutex.
type Tracker struct {
	mu       sync.Mutex
	selfID   string
	quiet    time.Duration
	entries  map[string]*entry
	now      func() time.Time
	onChange func()
}

// NewTracker returns a tracker with the default 5 second quiet window.
// Events from selfID are ignored: a client never shows its own indicator.
func NewTracker(selfID string) *Tracker {
	return NewTrackerWithQuiet(selfID, DefaultQuietWindow)
}

// NewTrackerWithQuiet returns a tracker with a custom quiet window.
func NewTrackerWithQuiet(selfID string, quiet time.Duration) *Tracker {
	return &Tracker{
		selfID:  selfID,
		quiet:   quiet,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// OnChange registers a callback fired after any visible change. Used by the
// engine to push a fresh snapshot to the view.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// OnTyping applies one typing event. A repeated true resets the expiry timer
// rather than stacking a second one; false removes immediately.
func (t *Tracker) OnTyping(userID, displayName string, isTyping bool) {
	if userID == t.selfID {
		return
	}

	t.mu.Lock()
	changed := false
	if isTyping {
		if e, ok := t.entries[userID]; ok {
			e.seen = t.now()
			if displayName != "" && displayName != e.displayName {
				// The rendered name changed even though the set did not.
				e.displayName = displayName
				changed = true
			}
			e.timer.Stop()
			e.timer = t.expireAfter(userID)
		} else {
			t.entries[userID] = &entry{
				displayName: displayName,
				seen:        t.now(),
				timer:       t.expireAfter(userID),
			}
			changed = true
		}
	} else {
		changed = t.removeLocked(userID)
	}
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

func (t *Tracker) expireAfter(userID string) *time.Timer {
	return time.AfterFunc(t.quiet, func() {
		t.mu.Lock()
		// The entry may have been refreshed since this timer was armed.
		e, ok := t.entries[userID]
		changed := false
		if ok && t.now().Sub(e.seen) >= t.quiet {
			changed = t.removeLocked(userID)
		}
		fn := t.onChange
		t.mu.Unlock()
		if changed && fn != nil {
			fn()
		}
	})
}

func (t *Tracker) removeLocked(userID string) bool {
	e, ok := t.entries[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, userID)
	return true
}

// Names returns the display names of everyone currently typing, sorted for
// stable rendering. Entries past the quiet window are excluded even if their
// timer has not fired yet.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.quiet)
	names := make([]string, 0, len(t.entries))
	for id, e := range t.entries {
		if e.seen.Before(cutoff) {
			continue
		}
		name := e.displayName
		if name == "" {
			name = id
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all entries and stops their timers. Called synchronously on
// channel switch so a previous channel's indicators never bleed through.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
}
