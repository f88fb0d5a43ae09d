package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/metrics"
)

// ReasonExpired is the release reason recorded by the sweeper.
const ReasonExpired = "expired"

// Sweeper releases stock reservations whose expiry has passed. Releases go
// through the normal command path, so they are persisted and published like
// any other command.
type Sweeper struct {
	store     eventstore.EventStore
	inventory *InventoryHandler
	batch     int
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewSweeper creates a sweeper paging inventories batch at a time.
func NewSweeper(store eventstore.EventStore, inventory *InventoryHandler, batch int, m *metrics.Metrics) *Sweeper {
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{store: store, inventory: inventory, batch: batch, metrics: m, now: time.Now}
}

// Sweep walks every inventory and releases its expired reservations. It
// returns the number of reservations released.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	released := 0

	var position int64
	for {
		page, err := s.store.GetEventsByType(ctx, domain.InventoryCreatedType, position, s.batch)
		if err != nil {
			return released, err
		}
		if len(page) == 0 {
			break
		}
		position = eventstore.LastPosition(page, position)

		for _, se := range page {
			n, err := s.sweepInventory(ctx, se.Event.AggregateID, now)
			released += n
			if err != nil {
				return released, err
			}
		}
		if len(page) < s.batch {
			break
		}
	}

	if released > 0 {
		log.Info().Int("released", released).Msg("Released expired reservations")
	}
	return released, nil
}

func (s *Sweeper) sweepInventory(ctx context.Context, inventoryID string, now time.Time) (int, error) {
	inv, ok, err := s.inventory.GetInventory(ctx, inventoryID)
	if err != nil || !ok {
		return 0, err
	}

	released := 0
	for _, r := range inv.ExpiredReservations(now) {
		_, err := s.inventory.HandleReleaseStock(ctx, ReleaseStockCommand{
			Meta:        Meta{UserID: "system", CausationID: r.ReservationID},
			InventoryID: inventoryID,
			OrderID:     r.OrderID,
			Reason:      ReasonExpired,
		})
		if err != nil && !errors.Is(err, ErrNotPublished) {
			// Allocated or released since the load
			if domain.IsDomainError(err) {
				log.Debug().Err(err).Str("inventoryID", inventoryID).Str("orderID", r.OrderID).Msg("Reservation no longer releasable")
				continue
			}
			return released, err
		}
		released++
		s.metrics.ReservationReleased()
	}
	return released, nil
}
