// Package reads tracks read boundaries and unread counters across channels.
// Read state is eventually consistent and never safety-critical: local marks
// are optimistic, server confirmation is debounced, and failures self-heal on
// the next channel visit.
package reads

import (
	"log"
	"sync"
	"time"

	"github.com/avenmora/kestrel/internal/types"
)

// DefaultDebounce is how long the coordinator coalesces mark-read calls
// before confirming with the server.
const DefaultDebounce = 500 * time.Millisecond

// Confirmer sends the mark_read confirmation to the server.
type Confirmer func(channelID string, lastReadID int64) error

// Coordinator owns read boundaries and unread counters for every channel in
// the session. It is constructed once at session start and passed by
// reference to whichever surface needs it; there is no package-level state.
type Coordinator struct {
	mu         sync.Mutex
	selfID     string
	confirm    Confirmer
	debounce   time.Duration
	boundaries map[string]*types.ReadBoundary
	unread     map[string]int
	timers     map[string]*time.Timer
	needsRetry map[string]bool
	logger     *log.Logger
}

// NewCoordinator constructs a coordinator. confirm may be nil when no
// transport is attached (offline tests); logger may be nil for silence.
func NewCoordinator(selfID string, confirm Confirmer, logger *log.Logger) *Coordinator {
	return &Coordinator{
		selfID:     selfID,
		confirm:    confirm,
		debounce:   DefaultDebounce,
		boundaries: make(map[string]*types.ReadBoundary),
		unread:     make(map[string]int),
		timers:     make(map[string]*time.Timer),
		needsRetry: make(map[string]bool),
		logger:     logger,
	}
}

// SetDebounce overrides the confirmation debounce. Tests use short windows.
func (c *Coordinator) SetDebounce(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounce = d
}

func (c *Coordinator) boundary(channelID string) *types.ReadBoundary {
	b, ok := c.boundaries[channelID]
	if !ok {
		b = &types.ReadBoundary{}
		c.boundaries[channelID] = b
	}
	return b
}

// MarkRead acknowledges everything up to latestID in the channel. The local
// side applies immediately: the unread counter zeroes and the self watermark
// advances. The server confirmation is debounced; a failed confirmation is
// retried on the next visit rather than surfaced.
func (c *Coordinator) MarkRead(channelID string, latestID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unread[channelID] = 0
	b := c.boundary(channelID)
	if latestID > b.SelfLastReadID {
		b.SelfLastReadID = latestID
	}
	if latestID == 0 && !c.needsRetry[channelID] {
		// Nothing known to acknowledge and nothing owed to the server.
		return
	}

	confirmID := b.SelfLastReadID
	if prev, ok := c.timers[channelID]; ok {
		prev.Stop()
	}
	c.timers[channelID] = time.AfterFunc(c.debounce, func() {
		c.runConfirm(channelID, confirmID)
	})
}

func (c *Coordinator) runConfirm(channelID string, lastReadID int64) {
	c.mu.Lock()
	confirm := c.confirm
	c.mu.Unlock()

	if confirm == nil {
		return
	}
	err := confirm(channelID, lastReadID)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, channelID)
	if err != nil {
		c.needsRetry[channelID] = true
		if c.logger != nil {
			c.logger.Printf("mark read %s failed, will retry on next visit: %v", channelID, err)
		}
		return
	}
	delete(c.needsRetry, channelID)
}

// OnReceipt folds a read_receipt event in. Watermarks only advance: receipts
// may arrive out of order under multi-homed delivery, so this is a max-merge,
// never an overwrite.
func (c *Coordinator) OnReceipt(channelID, userID string, lastReadID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.boundary(channelID)
	if userID == c.selfID {
		if lastReadID > b.SelfLastReadID {
			b.SelfLastReadID = lastReadID
		}
		return
	}
	if lastReadID > b.OthersReadID {
		b.OthersReadID = lastReadID
	}
}

// OnNewMessage applies the unread increment rule: count the message iff its
// channel is not the active view and the author is not the local user.
// Returns true when the counter advanced, so callers can notify.
func (c *Coordinator) OnNewMessage(channelID, authorID, activeChannelID string) bool {
	if channelID == activeChannelID || authorID == c.selfID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread[channelID]++
	return true
}

// Boundary returns a copy of the channel's read boundary.
func (c *Coordinator) Boundary(channelID string) types.ReadBoundary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.boundaries[channelID]; ok {
		return *b
	}
	return types.ReadBoundary{}
}

// Unread returns the channel's unread count.
func (c *Coordinator) Unread(channelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[channelID]
}

// UnreadCounts returns a copy of every non-zero counter, for sidebar badges.
func (c *Coordinator) UnreadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.unread))
	for ch, n := range c.unread {
		if n > 0 {
			out[ch] = n
		}
	}
	return out
}

// TotalUnread sums every channel's counter, for the tab title.
func (c *Coordinator) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.unread {
		total += n
	}
	return total
}

// CancelPending stops the channel's in-flight debounce timer. Called when the
// active channel switches away.
func (c *Coordinator) CancelPending(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[channelID]; ok {
		t.Stop()
		delete(c.timers, channelID)
		// The confirmation never ran; owe it to the server next visit.
		c.needsRetry[channelID] = true
	}
}

// Reset drops all state. Called on logout.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, t := range c.timers {
		t.Stop()
		delete(c.timers, ch)
	}
	c.boundaries = make(map[string]*types.ReadBoundary)
	c.unread = make(map[string]int)
	c.needsRetry = make(map[string]bool)
}
