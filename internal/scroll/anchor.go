// Package scroll decides where the viewport should go after each change to
// the canonical sequence. It holds no state of its own: the decision is a
// pure function of the sequence delta and the current view geometry.
package scroll

import "github.com/avenmora/kestrel/internal/sequence"

// Kind enumerates the possible anchor decisions.
type Kind int

const (
	// None leaves the viewport alone.
	None Kind = iota
	// Bottom scrolls to the newest message.
	Bottom
	// PreserveOffset compensates for content added above the viewport so
	// the visible messages do not move.
	PreserveOffset
	// Highlight scrolls to a specific message and transiently highlights it
	// (deep-link navigation).
	Highlight
)

// Decision is the outcome of one Decide call.
type Decision struct {
	Kind Kind
	// OffsetPx is the height added above the viewport, for PreserveOffset.
	OffsetPx int
	// MessageID is the deep-link target, for Highlight.
	MessageID int64
}

// View describes the viewport at decision time. The rendering layer fills
// this in; the engine never inspects pixels itself.
type View struct {
	// InitialLoad is true until the first page has painted.
	InitialLoad bool
	// Settled is true once layout has stopped moving after the first paint.
	Settled bool
	// AtBottom is true when the viewport is at or very near the newest
	// message.
	AtBottom bool
	// PrependedHeightPx is the pixel height of content a prepend added
	// above the viewport.
	PrependedHeightPx int
	// TargetID is a deep-link message id, 0 when none was requested.
	TargetID int64
	// TargetLoaded is true once the deep-link target is in the sequence.
	TargetLoaded bool
}

// Decide maps a sequence delta and the view geometry to an anchor decision.
//
// Priority order: deep-link target, initial load, prepended history, new
// message at the bottom, otherwise nothing — content arriving while the user
// reads history must not move the viewport (the unread cue covers it).
func Decide(d sequence.Delta, v View) Decision {
	if v.TargetID != 0 && v.TargetLoaded {
		return Decision{Kind: Highlight, MessageID: v.TargetID}
	}

	if v.InitialLoad {
		if v.Settled {
			return Decision{Kind: Bottom}
		}
		// First paint still settling; wait for the layout to stop moving.
		return Decision{Kind: None}
	}

	if d.Prepended > 0 {
		return Decision{Kind: PreserveOffset, OffsetPx: v.PrependedHeightPx}
	}

	if d.Appended > 0 && v.AtBottom {
		return Decision{Kind: Bottom}
	}

	return Decision{Kind: None}
}
