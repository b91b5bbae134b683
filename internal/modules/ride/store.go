// README: Ride store contract and the in-memory implementation.
package ride

import (
	"context"
	"sync"
	"time"

	"ridehail/internal/types"
)

// Store owns ride records. TryTransition is the only way to change a stored ride.
type Store interface {
	Create(ctx context.Context, riderID types.ID, pickup, destination string) (*Ride, error)
	Get(ctx context.Context, id types.ID) (*Ride, error)
	TryTransition(ctx context.Context, id types.ID, expected Status, mutate Mutation) (*Ride, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	rides map[types.ID]*Ride
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, riderID types.ID, pickup, destination string) (*Ride, error) {
	r, err := newRide(riderID, pickup, destination, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.rides[r.ID] = r
	s.mu.Unlock()
	return r.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) TryTransition(_ context.Context, id types.ID, expected Status, mutate Mutation) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyTransition(cur, expected, mutate, s.now())
	if err != nil {
		return nil, err
	}
	s.rides[id] = next
	return next.Clone(), nil
}
