package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/playmesh-dev/playmesh/go/internal/state"
)

const (
	// DefaultLease is the TTL granted on creation and extended by every
	// successful state merge.
	DefaultLease = 30 * time.Minute

	// DefaultSweepInterval is how often the janitor removes expired sessions.
	DefaultSweepInterval = time.Minute
)

// entry bundles session metadata with its game state behind a per-session
// mutex. The mutex is the exclusion primitive shared by state merges, state
// snapshots and the expiry sweep, so a sweep can never remove a session
// mid-merge.
type entry struct {
	mu    sync.Mutex
	info  Info
	state state.GameState
}

// Store is the authoritative, TTL-bounded owner of session metadata and game
// state. Mutations to a given session's state are strictly serialized;
// sessions are independent and proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	lease      time.Duration
	sweepEvery time.Duration
	logger     logr.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLease overrides the default session lease duration.
func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

// WithSweepInterval overrides the janitor interval.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

// WithClock overrides the time source. Tests use this to force expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store.
func NewStore(logger logr.Logger, opts ...Option) *Store {
	s := &Store{
		sessions:   make(map[string]*entry),
		lease:      DefaultLease,
		sweepEvery: DefaultSweepInterval,
		logger:     logger.WithName("session-store"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background expiry sweep. It returns immediately; the
// sweep stops when ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sweep(); n > 0 {
					s.logger.Info("swept expired sessions", "count", n)
				}
			}
		}
	}()
}

// Create establishes a new session with a fresh lease and the given initial
// state. The initial state is deep-copied.
func (s *Store) Create(playerID, username, deviceID string, initial state.GameState) Info {
	info := Info{
		ID:        uuid.New().String(),
		PlayerID:  playerID,
		Username:  username,
		DeviceID:  deviceID,
		ExpiresAt: s.now().Add(s.lease),
	}
	if initial == nil {
		initial = state.NewGameState()
	}

	s.mu.Lock()
	s.sessions[info.ID] = &entry{info: info, state: initial.Clone()}
	s.mu.Unlock()

	s.logger.Info("session created", "sessionID", info.ID, "playerID", playerID)
	return info
}

// Join refreshes the lease for an existing session and re-binds the device.
func (s *Store) Join(sessionID, deviceID string) (Info, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info.Expired(s.now()) {
		return Info{}, ErrSessionNotFound
	}
	e.info.DeviceID = deviceID
	e.info.ExpiresAt = s.now().Add(s.lease)
	return e.info, nil
}

// Get returns the session metadata, or ErrSessionNotFound for missing and
// expired sessions alike.
func (s *Store) Get(sessionID string) (Info, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info.Expired(s.now()) {
		return Info{}, ErrSessionNotFound
	}
	return e.info, nil
}

// Put upserts session metadata and refreshes the lease.
func (s *Store) Put(info Info) {
	info.ExpiresAt = s.now().Add(s.lease)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[info.ID]; ok {
		e.mu.Lock()
		e.info = info
		e.mu.Unlock()
		return
	}
	s.sessions[info.ID] = &entry{info: info, state: state.NewGameState()}
}

// Remove terminates a session. Removing an unknown session is a no-op.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Snapshot returns a point-in-time deep copy of the session's game state.
// Caller mutations of the copy never reach stored state.
func (s *Store) Snapshot(sessionID string) (state.GameState, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return e.state.Clone(), nil
}

// ApplyUpdates is the single state-mutating entry point. The batch is applied
// atomically in order under the per-session mutex and the lease is extended
// on success. A session removed or expired concurrently with the attempt
// yields ErrSessionConflict.
func (s *Store) ApplyUpdates(sessionID string, updates []state.EntityAttributeUpdate) (state.GameState, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, ErrSessionConflict
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-check under the entry mutex: an explicit Remove or a sweep may have
	// won the race between lookup and lock.
	s.mu.RLock()
	current, present := s.sessions[sessionID]
	s.mu.RUnlock()
	if !present || current != e || e.info.Expired(s.now()) {
		return nil, ErrSessionConflict
	}

	next := e.state.Clone()
	next.Apply(updates)
	e.state = next
	e.info.ExpiresAt = s.now().Add(s.lease)

	return next.Clone(), nil
}

// Len reports the number of resident sessions, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// sweep removes entries whose lease has lapsed. Each candidate is confirmed
// under its own mutex so the sweep and an in-flight merge never interleave.
func (s *Store) sweep() int {
	now := s.now()

	s.mu.RLock()
	candidates := make([]*entry, 0)
	ids := make([]string, 0)
	for id, e := range s.sessions {
		candidates = append(candidates, e)
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	removed := 0
	for i, e := range candidates {
		e.mu.Lock()
		expired := e.info.Expired(now)
		e.mu.Unlock()
		if !expired {
			continue
		}

		s.mu.Lock()
		if current, ok := s.sessions[ids[i]]; ok && current == e {
			delete(s.sessions, ids[i])
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}
