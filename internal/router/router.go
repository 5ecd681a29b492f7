package router

import (
	"github.com/google/uuid"

	"github.com/Zokiio/ovc-sub005/internal/position"
	"github.com/Zokiio/ovc-sub005/internal/session"
	"github.com/Zokiio/ovc-sub005/internal/voicegroup"
)

// Router computes the listener set for a speaker's audio frame from the
// session registry, position tracker, and group overlays.
type Router struct {
	sessions  *session.Registry
	positions *position.Tracker
	groups    *voicegroup.Store
	radius    float64
}

// New creates a router with the given proximity radius in world distance
// units.
func New(sessions *session.Registry, positions *position.Tracker, groups *voicegroup.Store, radius float64) *Router {
	return &Router{
		sessions:  sessions,
		positions: positions,
		groups:    groups,
		radius:    radius,
	}
}

// Radius returns the configured proximity radius.
func (r *Router) Radius() float64 {
	return r.radius
}

// Route returns the sessions that should receive the sender's current
// audio frame. Qualification rules, per candidate R:
//
//  1. Sender and R share a group: R qualifies unconditionally.
//  2. Sender is in an isolated group: no one else qualifies; distance is
//     ignored entirely.
//  3. R is in an isolated group the sender does not belong to: R never
//     qualifies. Isolation cuts both directions, so members hear only
//     each other.
//  4. Otherwise R qualifies iff it is in the sender's world and within the
//     proximity radius (inclusive). Cross-world distance is infinite, and a
//     candidate with no known position is unreachable by proximity.
//
// The sender itself never qualifies. A nil result means no recipients (or
// an unknown sender).
func (r *Router) Route(senderID uuid.UUID) []*session.Session {
	if !r.sessions.Has(senderID) {
		return nil
	}

	senderGroup, inGroup := r.groups.GroupOf(senderID)
	senderPos, hasPos := r.positions.Get(senderID)

	var recipients []*session.Session
	for _, cand := range r.sessions.Snapshot() {
		if cand.ID == senderID {
			continue
		}

		if inGroup && r.groups.IsMember(senderGroup.ID, cand.ID) {
			recipients = append(recipients, cand)
			continue
		}
		if inGroup && senderGroup.Isolated {
			continue
		}
		if candGroup, ok := r.groups.GroupOf(cand.ID); ok && candGroup.Isolated {
			continue
		}

		if !hasPos {
			continue
		}
		candPos, ok := r.positions.Get(cand.ID)
		if !ok {
			continue
		}
		if candPos.World != senderPos.World {
			continue
		}
		if senderPos.DistanceTo(candPos) <= r.radius {
			recipients = append(recipients, cand)
		}
	}
	return recipients
}
