package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/logger"
)

// ReconcileReport summarizes one rebuild of the ledger. Ahead lists
// events whose stored count stayed above the active reservations; that is
// either a booking in flight elsewhere or a slot leaked by a failed
// compensation, and only a recounting backend can tell them apart.
type ReconcileReport struct {
	Events    int            `json:"events"`
	Reserved  int            `json:"reserved"`
	Corrupted []uint64       `json:"over_capacity,omitempty"`
	Ahead     []uint64       `json:"ledger_ahead,omitempty"`
	Counts    map[uint64]int `json:"-"`
}

// Reconcile brings every event's ledger entry in line with its active
// reservations. It is idempotent and safe to run while other instances
// take bookings: see Ledger.Rebuild.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	m.reconcile.Lock()
	defer m.reconcile.Unlock()

	caps, err := m.events.Capacities(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list capacities: %w", err)
	}
	counts, err := m.reservations.ActiveCounts(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("count reservations: %w", err)
	}

	rep := ReconcileReport{Counts: make(map[uint64]int, len(caps))}
	for _, c := range caps {
		n := counts[c.EventID]
		over := n > c.Capacity
		if over {
			logger.Errorf(ctx, "DEFECT: event %d holds %d active reservations for capacity %d", c.EventID, n, c.Capacity)
			rep.Corrupted = append(rep.Corrupted, c.EventID)
		}
		stored, err := m.ledger.Rebuild(ctx, c.EventID, c.Capacity, n)
		switch {
		case err == nil:
			if stored > n {
				logger.Warnf(ctx, "ledger for event %d holds %d slots, %d active reservations", c.EventID, stored, n)
				rep.Ahead = append(rep.Ahead, c.EventID)
			}
		case errors.Is(err, apperr.ErrNotFound):
			// deleted since Capacities was read
			continue
		case over || errors.Is(err, apperr.ErrConflict):
			// the MySQL CHECK refuses an over-capacity count; keep going
			logger.Errorf(ctx, "rebuild over-capacity event %d: %v", c.EventID, err)
		default:
			return rep, fmt.Errorf("rebuild ledger for event %d: %w", c.EventID, err)
		}
		rep.Events++
		rep.Reserved += n
		rep.Counts[c.EventID] = n
	}
	logger.Infof(ctx, "ledger reconciled: %d events, %d active reservations", rep.Events, rep.Reserved)
	return rep, nil
}
