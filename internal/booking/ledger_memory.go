package booking

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/event-booking/internal/apperr"
)

// MemoryLedger keeps counters in process memory behind a mutex per event.
// It suits single-instance deployments; counts are rebuilt from MySQL by
// reconciliation after a restart.
type MemoryLedger struct {
	mu    sync.RWMutex
	slots map[uint64]*slot
}

type slot struct {
	mu       sync.Mutex
	capacity int
	reserved int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{slots: make(map[uint64]*slot)}
}

func (l *MemoryLedger) get(eventID uint64) (*slot, error) {
	l.mu.RLock()
	s, ok := l.slots[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger entry %d: %w", eventID, apperr.ErrNotFound)
	}
	return s, nil
}

func (l *MemoryLedger) TryReserve(_ context.Context, eventID uint64) (int, error) {
	s, err := l.get(eventID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved >= s.capacity {
		return 0, apperr.ErrFull
	}
	s.reserved++
	return remaining(s.capacity, s.reserved), nil
}

func (l *MemoryLedger) Release(_ context.Context, eventID uint64) (int, error) {
	s, err := l.get(eventID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved <= 0 {
		return remaining(s.capacity, s.reserved), fmt.Errorf("event %d: %w", eventID, apperr.ErrUnderflow)
	}
	s.reserved--
	return remaining(s.capacity, s.reserved), nil
}

func (l *MemoryLedger) Resize(_ context.Context, eventID uint64, capacity int) (int, error) {
	s, err := l.get(eventID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if capacity < s.reserved {
		return remaining(s.capacity, s.reserved), fmt.Errorf("capacity %d below %d reserved: %w", capacity, s.reserved, apperr.ErrConflict)
	}
	s.capacity = capacity
	return remaining(s.capacity, s.reserved), nil
}

func (l *MemoryLedger) Load(_ context.Context, eventID uint64, capacity, reserved int) error {
	l.mu.Lock()
	s, ok := l.slots[eventID]
	if !ok {
		s = &slot{}
		l.slots[eventID] = s
	}
	l.mu.Unlock()

	s.mu.Lock()
	s.capacity, s.reserved = capacity, reserved
	s.mu.Unlock()
	return nil
}

// Rebuild raises the entry to counted and never lowers it, like the Redis
// ledger, so two managers sharing one MemoryLedger behave as instances do.
func (l *MemoryLedger) Rebuild(_ context.Context, eventID uint64, capacity, counted int) (int, error) {
	l.mu.Lock()
	s, ok := l.slots[eventID]
	if !ok {
		s = &slot{}
		l.slots[eventID] = s
	}
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	if s.reserved < counted {
		s.reserved = counted
	}
	return s.reserved, nil
}

func (l *MemoryLedger) Ensure(_ context.Context, eventID uint64, capacity, reserved int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.slots[eventID]; !ok {
		l.slots[eventID] = &slot{capacity: capacity, reserved: reserved}
	}
	return nil
}

func (l *MemoryLedger) Forget(_ context.Context, eventID uint64) error {
	l.mu.Lock()
	delete(l.slots, eventID)
	l.mu.Unlock()
	return nil
}

// Snapshot reports the current entry for eventID.
func (l *MemoryLedger) Snapshot(eventID uint64) (capacity, reserved int, ok bool) {
	s, err := l.get(eventID)
	if err != nil {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity, s.reserved, true
}
