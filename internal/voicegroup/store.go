package voicegroup

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound means the group identifier is unknown.
	ErrNotFound = errors.New("voice group not found")
	// ErrAlreadyExists means a group with that identifier already exists.
	ErrAlreadyExists = errors.New("voice group already exists")
	// ErrWrongPassword means the join attempt failed password verification.
	ErrWrongPassword = errors.New("wrong voice group password")
)

// Info is an immutable snapshot of a group for routing and monitoring.
type Info struct {
	ID        string `json:"id"`
	Isolated  bool   `json:"isolated"`
	Permanent bool   `json:"permanent"`
	Members   int    `json:"members"`
	Protected bool   `json:"password_protected"`
}

type group struct {
	id           string
	isolated     bool
	permanent    bool
	passwordHash []byte
	members      map[uuid.UUID]struct{}
}

// Store holds all voice groups and client membership. A client belongs to
// at most one group. One lock guards the store: group churn is orders of
// magnitude rarer than the audio path, which only takes read locks here.
type Store struct {
	mu         sync.RWMutex
	groups     map[string]*group
	membership map[uuid.UUID]string
	logger     *slog.Logger
}

// NewStore creates an empty group store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		groups:     make(map[string]*group),
		membership: make(map[uuid.UUID]string),
		logger:     logger,
	}
}

// Create adds a new group. An empty password leaves the group open.
func (s *Store) Create(id, password string, isolated, permanent bool) error {
	if id == "" {
		return fmt.Errorf("voice group id must not be empty")
	}

	var hash []byte
	if password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash group password: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	s.groups[id] = &group{
		id:           id,
		isolated:     isolated,
		permanent:    permanent,
		passwordHash: hash,
		members:      make(map[uuid.UUID]struct{}),
	}

	s.logger.Info("voice group created",
		slog.String("group_id", id),
		slog.Bool("isolated", isolated),
		slog.Bool("permanent", permanent),
		slog.Bool("password_protected", hash != nil),
	)
	return nil
}

// Join adds a client to a group after password verification, leaving its
// previous group first.
func (s *Store) Join(groupID string, clientID uuid.UUID, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, groupID)
	}
	if g.passwordHash != nil {
		if err := bcrypt.CompareHashAndPassword(g.passwordHash, []byte(password)); err != nil {
			return ErrWrongPassword
		}
	}

	s.leaveLocked(clientID)
	g.members[clientID] = struct{}{}
	s.membership[clientID] = groupID

	s.logger.Info("client joined voice group",
		slog.String("group_id", groupID),
		slog.String("client_id", clientID.String()),
		slog.Int("members", len(g.members)),
	)
	return nil
}

// Leave removes a client from its group, if any. An emptied group is
// destroyed unless it is permanent.
func (s *Store) Leave(clientID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(clientID)
}

func (s *Store) leaveLocked(clientID uuid.UUID) {
	groupID, ok := s.membership[clientID]
	if !ok {
		return
	}
	delete(s.membership, clientID)
	g, ok := s.groups[groupID]
	if !ok {
		return
	}
	delete(g.members, clientID)

	s.logger.Info("client left voice group",
		slog.String("group_id", groupID),
		slog.String("client_id", clientID.String()),
		slog.Int("members", len(g.members)),
	)

	if len(g.members) == 0 && !g.permanent {
		delete(s.groups, groupID)
		s.logger.Info("empty voice group destroyed", slog.String("group_id", groupID))
	}
}

// GroupOf returns the group a client belongs to.
func (s *Store) GroupOf(clientID uuid.UUID) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groupID, ok := s.membership[clientID]
	if !ok {
		return Info{}, false
	}
	g, ok := s.groups[groupID]
	if !ok {
		return Info{}, false
	}
	return g.info(), true
}

// IsMember reports whether a client belongs to the given group.
func (s *Store) IsMember(groupID string, clientID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	_, ok = g.members[clientID]
	return ok
}

// Lookup returns a snapshot of one group.
func (s *Store) Lookup(groupID string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return Info{}, false
	}
	return g.info(), true
}

// Groups returns snapshots of all groups.
func (s *Store) Groups() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.info())
	}
	return out
}

func (g *group) info() Info {
	return Info{
		ID:        g.id,
		Isolated:  g.isolated,
		Permanent: g.permanent,
		Members:   len(g.members),
		Protected: g.passwordHash != nil,
	}
}
