package session

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zokiio/ovc-sub005/internal/codec"
)

// shardCount spreads registry state over independent locks so concurrent
// senders do not serialize on a single mutex. Must be a power of two.
const shardCount = 16

// Session is the relay's live record of one connected client. The identity
// and codec pipeline are fixed at creation; address and liveness fields are
// guarded by the session's own lock because the transport dispatch path and
// the idle sweep both touch them.
type Session struct {
	ID       uuid.UUID
	Pipeline *codec.Pipeline

	mu       sync.RWMutex
	username string
	addr     *net.UDPAddr
	lastSeen time.Time
}

// Username returns the display name from the most recent authentication.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Addr returns the client's last-known remote address.
func (s *Session) Addr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// LastSeen returns the time of the last packet from this client.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Touch resets the idle timer.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) refresh(addr *net.UDPAddr, username string, now time.Time) {
	s.mu.Lock()
	s.addr = addr
	s.username = username
	s.lastSeen = now
	s.mu.Unlock()
}

// Info is an immutable snapshot of a session for monitoring APIs.
type Info struct {
	ClientID uuid.UUID `json:"client_id"`
	Username string    `json:"username"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

// Info returns a monitoring snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr := ""
	if s.addr != nil {
		addr = s.addr.String()
	}
	return Info{
		ClientID: s.ID,
		Username: s.username,
		Addr:     addr,
		LastSeen: s.lastSeen,
	}
}

// PipelineFactory builds the per-session codec pair. Injected so the
// registry does not hard-wire opus construction.
type PipelineFactory func() (*codec.Pipeline, error)

type shard struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// Registry is the authoritative map of connected clients. It holds no
// timers of its own; the transport drives SweepExpired on its interval.
type Registry struct {
	shards      [shardCount]shard
	newPipeline PipelineFactory
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, newPipeline PipelineFactory) *Registry {
	r := &Registry{
		newPipeline: newPipeline,
		logger:      logger,
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[uuid.UUID]*Session)
	}
	return r
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return &r.shards[h.Sum32()&(shardCount-1)]
}

// Register creates a session for a newly authenticated client, or refreshes
// the existing one: re-authentication from the same identifier updates the
// address and resets the idle timer instead of creating a duplicate.
func (r *Registry) Register(id uuid.UUID, addr *net.UDPAddr, username string) (*Session, error) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	if existing, ok := sh.sessions[id]; ok {
		existing.refresh(addr, username, now)
		r.logger.Debug("session refreshed",
			slog.String("client_id", id.String()),
			slog.String("username", username),
			slog.String("addr", addr.String()),
		)
		return existing, nil
	}

	pipeline, err := r.newPipeline()
	if err != nil {
		return nil, fmt.Errorf("create codec pipeline for %s: %w", id, err)
	}
	sess := &Session{
		ID:       id,
		Pipeline: pipeline,
		username: username,
		addr:     addr,
		lastSeen: now,
	}
	sh.sessions[id] = sess

	r.logger.Info("session registered",
		slog.String("client_id", id.String()),
		slog.String("username", username),
		slog.String("addr", addr.String()),
	)
	return sess, nil
}

// Lookup returns the session for a client identifier.
func (r *Registry) Lookup(id uuid.UUID) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	sess, ok := sh.sessions[id]
	return sess, ok
}

// Touch resets the idle timer of a live session. Reports whether the
// session exists.
func (r *Registry) Touch(id uuid.UUID) bool {
	sess, ok := r.Lookup(id)
	if !ok {
		return false
	}
	sess.Touch(time.Now())
	return true
}

// Remove deletes a session and returns it, if present.
func (r *Registry) Remove(id uuid.UUID) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	return sess, ok
}

// SweepExpired removes every session idle longer than timeout and returns
// the evicted sessions so the caller can tear down position, group, and
// transport state (the synthetic disconnect).
func (r *Registry) SweepExpired(timeout time.Duration) []*Session {
	now := time.Now()
	var evicted []*Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if now.Sub(sess.LastSeen()) > timeout {
				delete(sh.sessions, id)
				evicted = append(evicted, sess)
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Snapshot returns all live sessions. The slice is fresh; the sessions are
// shared handles.
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, r.Len())
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			out = append(out, sess)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Has reports whether a client identifier has a live session.
func (r *Registry) Has(id uuid.UUID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
