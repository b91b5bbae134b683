// README: Per-actor long-poll wait slots with exactly-once resolution (deliver, timeout, cancel or supersede).
package waitreg

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Policy decides what happens when an actor opens a second wait while one is active.
type Policy int

const (
	// PolicySupersede finishes the older wait with ErrSuperseded and installs the new one.
	PolicySupersede Policy = iota
	// PolicyReject refuses the newer wait with ErrConflictingWait.
	PolicyReject
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return PolicySupersede, nil
	case "reject":
		return PolicyReject, nil
	}
	return 0, errors.New("unknown wait policy: " + s)
}

var (
	ErrConflictingWait = errors.New("actor already has an active wait")
	ErrSuperseded      = errors.New("wait superseded by a newer poll")
	ErrCancelled       = errors.New("wait cancelled")
	ErrInvalidTimeout  = errors.New("wait timeout must be positive")
)

type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeTimeout
	outcomeSuperseded
	outcomeCancelled
)

type outcome[T any] struct {
	kind    outcomeKind
	payload T
}

type slot[T any] struct {
	done     bool
	deadline time.Time
	timer    *time.Timer
	// ch has capacity 1 and receives exactly one outcome.
	ch chan outcome[T]
}

// Registry holds at most one wait slot per actor. Every terminal outcome of a slot is
// decided under mu, so delivery, expiry, cancellation and supersession exclude each other.
type Registry[T any] struct {
	mu     sync.Mutex
	policy Policy
	slots  map[string]*slot[T]
}

func New[T any](policy Policy) *Registry[T] {
	return &Registry[T]{
		policy: policy,
		slots:  make(map[string]*slot[T]),
	}
}

// BeginWait registers a slot for actorID that expires after timeout.
func (r *Registry[T]) BeginWait(actorID string, timeout time.Duration) (*Handle[T], error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.slots[actorID]; ok {
		if r.policy == PolicyReject {
			return nil, ErrConflictingWait
		}
		r.finishLocked(actorID, prev, outcome[T]{kind: outcomeSuperseded})
	}

	s := &slot[T]{
		deadline: time.Now().Add(timeout),
		ch:       make(chan outcome[T], 1),
	}
	r.slots[actorID] = s
	// expire blocks on mu until this call returns, so s is fully installed first.
	s.timer = time.AfterFunc(timeout, func() { r.expire(actorID, s) })

	return &Handle[T]{reg: r, actorID: actorID, slot: s}, nil
}

// Resolve delivers payload to the actor's active slot. It reports false when there is
// no slot or the slot has already been finished by timeout or cancellation.
func (r *Registry[T]) Resolve(actorID string, payload T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[actorID]
	if !ok {
		return false
	}
	r.finishLocked(actorID, s, outcome[T]{kind: outcomeDelivered, payload: payload})
	return true
}

// Cancel removes the actor's slot without delivering anything.
func (r *Registry[T]) Cancel(actorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[actorID]
	if !ok {
		return false
	}
	r.finishLocked(actorID, s, outcome[T]{kind: outcomeCancelled})
	return true
}

// Waiting returns a snapshot of actors that currently hold a slot.
func (r *Registry[T]) Waiting() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry[T]) expire(actorID string, s *slot[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[actorID] != s {
		return
	}
	r.finishLocked(actorID, s, outcome[T]{kind: outcomeTimeout})
}

// cancelSlot finishes s only if it is still the actor's current slot.
func (r *Registry[T]) cancelSlot(actorID string, s *slot[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[actorID] != s {
		return false
	}
	r.finishLocked(actorID, s, outcome[T]{kind: outcomeCancelled})
	return true
}

// finishLocked must be called with mu held and s registered under actorID.
func (r *Registry[T]) finishLocked(actorID string, s *slot[T], o outcome[T]) {
	if s.done {
		panic("waitreg: slot for actor " + actorID + " finished twice")
	}
	s.done = true
	s.timer.Stop()
	delete(r.slots, actorID)
	s.ch <- o
}

// Handle is the caller's side of one wait slot. Wait must be called once.
type Handle[T any] struct {
	reg     *Registry[T]
	actorID string
	slot    *slot[T]
}

func (h *Handle[T]) ActorID() string {
	return h.actorID
}

func (h *Handle[T]) Deadline() time.Time {
	return h.slot.deadline
}

// Cancel withdraws this handle's slot. It never touches a newer slot for the same actor.
func (h *Handle[T]) Cancel() bool {
	return h.reg.cancelSlot(h.actorID, h.slot)
}

// Wait blocks until the slot is finished or ctx is done. A timeout yields
// delivered=false with a nil error.
func (h *Handle[T]) Wait(ctx context.Context) (payload T, delivered bool, err error) {
	select {
	case o := <-h.slot.ch:
		return h.result(o)
	case <-ctx.Done():
		if h.Cancel() {
			var zero T
			return zero, false, ctx.Err()
		}
		// Lost the race to another finisher; its outcome is already buffered.
		return h.result(<-h.slot.ch)
	}
}

func (h *Handle[T]) result(o outcome[T]) (T, bool, error) {
	var zero T
	switch o.kind {
	case outcomeDelivered:
		return o.payload, true, nil
	case outcomeTimeout:
		return zero, false, nil
	case outcomeSuperseded:
		return zero, false, ErrSuperseded
	default:
		return zero, false, ErrCancelled
	}
}
