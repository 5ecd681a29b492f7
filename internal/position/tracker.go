package position

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 16

// Position is a client's last-known location in the game world.
type Position struct {
	ClientID  uuid.UUID `json:"client_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	World     string    `json:"world"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DistanceTo returns the Euclidean distance to another position. The caller
// is responsible for the world check; distance across worlds is undefined.
func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

type shard struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]Position
}

// Tracker is a last-write-wins map of client positions, written by the
// external position feed and read by the proximity router. It keeps no
// history and imposes no throttling on callers.
type Tracker struct {
	shards [shardCount]shard
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i].positions = make(map[uuid.UUID]Position)
	}
	return t
}

func (t *Tracker) shardFor(id uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return &t.shards[h.Sum32()&(shardCount-1)]
}

// Update records a client's position. Idempotent and safe at any frequency.
func (t *Tracker) Update(id uuid.UUID, x, y, z float64, world string) {
	sh := t.shardFor(id)
	sh.mu.Lock()
	sh.positions[id] = Position{
		ClientID:  id,
		X:         x,
		Y:         y,
		Z:         z,
		World:     world,
		UpdatedAt: time.Now(),
	}
	sh.mu.Unlock()
}

// Get returns a client's last-known position.
func (t *Tracker) Get(id uuid.UUID) (Position, bool) {
	sh := t.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	pos, ok := sh.positions[id]
	return pos, ok
}

// Remove forgets a client's position.
func (t *Tracker) Remove(id uuid.UUID) {
	sh := t.shardFor(id)
	sh.mu.Lock()
	delete(sh.positions, id)
	sh.mu.Unlock()
}

// Prune drops every position whose client the live predicate rejects.
// A position with no corresponding session is garbage; the transport runs
// this alongside the session sweep. Returns the number removed.
func (t *Tracker) Prune(live func(uuid.UUID) bool) int {
	removed := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for id := range sh.positions {
			if !live(id) {
				delete(sh.positions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked positions.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		n += len(sh.positions)
		sh.mu.RUnlock()
	}
	return n
}
