package saga

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTombstoneRetention is how long finalized ids are remembered.
const DefaultTombstoneRetention = 24 * time.Hour

// StoreConfig configures a Store.
type StoreConfig struct {
	// TombstoneRetention is how long a finalized instance keeps absorbing
	// late messages for its id. Default: DefaultTombstoneRetention.
	TombstoneRetention time.Duration

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

type tombstone struct {
	inst UserOnboardingState
	at   time.Time
}

// Store keeps saga instances in memory. Updates of one correlation id are
// serialized; different ids proceed in parallel.
type Store struct {
	cfg   StoreConfig
	locks *keyedMutex

	mu         sync.RWMutex
	active     map[uuid.UUID]UserOnboardingState
	tombstones map[uuid.UUID]tombstone
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = DefaultTombstoneRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:        cfg,
		locks:      newKeyedMutex(),
		active:     make(map[uuid.UUID]UserOnboardingState),
		tombstones: make(map[uuid.UUID]tombstone),
	}
}

// UpdateFunc computes the next result from the current state of an id.
// inst is a copy and nil when no instance exists.
type UpdateFunc func(state State, inst *UserOnboardingState) (Result, error)

// Update runs fn while holding the lock of id and commits its result.
// Nothing is committed when fn returns an error or an unchanged result.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (Result, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	state, inst := s.load(id)
	res, err := fn(state, inst)
	if err != nil {
		return Result{}, err
	}
	if !res.Changed || res.Instance == nil {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Finalize {
		delete(s.active, id)
		s.tombstones[id] = tombstone{inst: *res.Instance, at: s.cfg.Now()}
	} else {
		s.active[id] = *res.Instance
	}
	return res, nil
}

func (s *Store) load(id uuid.UUID) (State, *UserOnboardingState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.active[id]; ok {
		return inst.CurrentState, &inst
	}
	if ts, ok := s.tombstones[id]; ok {
		inst := ts.inst
		return inst.CurrentState, &inst
	}
	return StateNone, nil
}

// Get returns the instance of id, active or finalized.
func (s *Store) Get(id uuid.UUID) (UserOnboardingState, bool) {
	state, inst := s.load(id)
	if state == StateNone {
		return UserOnboardingState{}, false
	}
	return *inst, true
}

// Active returns the number of in-progress instances.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Overdue returns the ids of active instances whose deadline is not after now,
// oldest deadline first.
func (s *Store) Overdue(now time.Time) []uuid.UUID {
	s.mu.RLock()
	type entry struct {
		id  uuid.UUID
		exp time.Time
	}
	var due []entry
	for id, inst := range s.active {
		if !inst.ExpiresAt.IsZero() && !now.Before(inst.ExpiresAt) {
			due = append(due, entry{id, inst.ExpiresAt})
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].exp.Before(due[j].exp) })
	ids := make([]uuid.UUID, len(due))
	for i, e := range due {
		ids[i] = e.id
	}
	return ids
}

// PurgeTombstones forgets finalized ids older than the retention and
// returns how many were removed.
func (s *Store) PurgeTombstones() int {
	cutoff := s.cfg.Now().Add(-s.cfg.TombstoneRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ts := range s.tombstones {
		if ts.at.Before(cutoff) {
			delete(s.tombstones, id)
			n++
		}
	}
	return n
}
