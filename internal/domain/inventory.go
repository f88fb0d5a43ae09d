package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const InventoryAggregateType = "inventory"

// Reservation is stock held for one order.
type Reservation struct {
	ReservationID string    `json:"reservationId"`
	OrderID       string    `json:"orderId"`
	Quantity      int       `json:"quantity"`
	ReservedAt    time.Time `json:"reservedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IsAllocated   bool      `json:"isAllocated"`
}

// Expired reports whether an unallocated reservation is past its expiry at t.
func (r Reservation) Expired(t time.Time) bool {
	return !r.IsAllocated && !r.ExpiresAt.IsZero() && !t.Before(r.ExpiresAt)
}

// InventoryState is the folded state of a product's stock.
type InventoryState struct {
	ProductID         string                 `json:"productId"`
	SKU               string                 `json:"sku,omitempty"`
	CurrentStock      int                    `json:"currentStock"`
	ReservedStock     int                    `json:"reservedStock"`
	LowStockThreshold int                    `json:"lowStockThreshold"`
	Reservations      map[string]Reservation `json:"reservations"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// Inventory tracks stock levels and reservations for a product.
type Inventory struct {
	*AggregateBase
	state InventoryState
}

func NewInventory(id string) *Inventory {
	inv := &Inventory{}
	inv.AggregateBase = newAggregateBase(id, InventoryAggregateType, inv.apply)
	inv.state.Reservations = map[string]Reservation{}
	return inv
}

// CreateInventory starts tracking stock for a product.
func CreateInventory(id, productID, sku string, initialStock, lowStockThreshold int) (*Inventory, error) {
	if blank(id) {
		return nil, InvalidArgument("inventory id is required")
	}
	if blank(productID) {
		return nil, InvalidArgument("product id is required")
	}
	if initialStock < 0 {
		return nil, InvalidArgument("initial stock must not be negative, got %d", initialStock)
	}
	if lowStockThreshold < 0 {
		return nil, InvalidArgument("low stock threshold must not be negative, got %d", lowStockThreshold)
	}

	inv := NewInventory(id)
	if err := inv.raise(InventoryCreated{
		ProductID:         productID,
		SKU:               sku,
		InitialStock:      initialStock,
		LowStockThreshold: lowStockThreshold,
	}); err != nil {
		return nil, err
	}
	return inv, nil
}

func InventoryFromEvents(id string, events []Event) (*Inventory, error) {
	inv := NewInventory(id)
	if err := inv.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return inv, nil
}

func (inv *Inventory) ProductID() string      { return inv.state.ProductID }
func (inv *Inventory) CurrentStock() int      { return inv.state.CurrentStock }
func (inv *Inventory) ReservedStock() int     { return inv.state.ReservedStock }
func (inv *Inventory) LowStockThreshold() int { return inv.state.LowStockThreshold }

// AvailableStock is current stock minus reserved stock, never negative.
func (inv *Inventory) AvailableStock() int {
	return max(0, inv.state.CurrentStock-inv.state.ReservedStock)
}

func (inv *Inventory) Reservation(orderID string) (Reservation, bool) {
	r, ok := inv.state.Reservations[orderID]
	return r, ok
}

// Reservations returns all reservations ordered by order id.
func (inv *Inventory) Reservations() []Reservation {
	out := make([]Reservation, 0, len(inv.state.Reservations))
	for _, r := range inv.state.Reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// ExpiredReservations returns the unallocated reservations past expiry at t.
func (inv *Inventory) ExpiredReservations(t time.Time) []Reservation {
	var out []Reservation
	for _, r := range inv.Reservations() {
		if r.Expired(t) {
			out = append(out, r)
		}
	}
	return out
}

func (inv *Inventory) State() InventoryState {
	s := inv.state
	s.Reservations = copyMap(inv.state.Reservations)
	return s
}

func (inv *Inventory) requireCreated() error {
	if inv.state.ProductID == "" {
		return NotFound(InventoryAggregateType, inv.ID())
	}
	return nil
}

func (inv *Inventory) AddStock(quantity int, reason string) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	if quantity <= 0 {
		return InvalidArgument("quantity must be positive, got %d", quantity)
	}
	return inv.raise(StockAdded{Quantity: quantity, Reason: reason})
}

// RemoveStock takes unreserved stock out, e.g. for damage or shrinkage.
func (inv *Inventory) RemoveStock(quantity int, reason string) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	if quantity <= 0 {
		return InvalidArgument("quantity must be positive, got %d", quantity)
	}
	available := inv.AvailableStock()
	if quantity > available {
		return newError(CodeInsufficientStock, "cannot remove %d from inventory %s, only %d available", quantity, inv.ID(), available)
	}
	if err := inv.raise(StockRemoved{Quantity: quantity, Reason: reason}); err != nil {
		return err
	}
	return inv.raiseAlerts(available)
}

// ReserveStock holds quantity for orderID until expiresAt, which must be
// after now.
func (inv *Inventory) ReserveStock(orderID string, quantity int, expiresAt, now time.Time) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	if blank(orderID) {
		return InvalidArgument("order id is required")
	}
	if quantity <= 0 {
		return InvalidArgument("quantity must be positive, got %d", quantity)
	}
	if !expiresAt.After(now) {
		return InvalidArgument("reservation expiry %s is not in the future", expiresAt.Format(time.RFC3339))
	}
	if _, exists := inv.state.Reservations[orderID]; exists {
		return newError(CodeAlreadyExists, "order %s already holds a reservation on inventory %s", orderID, inv.ID())
	}
	available := inv.AvailableStock()
	if available < quantity {
		return newError(CodeInsufficientStock, "cannot reserve %d on inventory %s, only %d available", quantity, inv.ID(), available)
	}

	if err := inv.raise(StockReserved{
		ReservationID: inv.reservationID(orderID),
		OrderID:       orderID,
		Quantity:      quantity,
		ExpiresAt:     expiresAt.UTC(),
	}); err != nil {
		return err
	}
	return inv.raiseAlerts(available)
}

// ReleaseStock cancels an unallocated reservation.
func (inv *Inventory) ReleaseStock(orderID, reason string) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	r, ok := inv.state.Reservations[orderID]
	if !ok {
		return newError(CodeNotFound, "no reservation for order %s on inventory %s", orderID, inv.ID())
	}
	if r.IsAllocated {
		return newError(CodeInvalidStatus, "reservation for order %s is already allocated", orderID)
	}
	return inv.raise(StockReleased{
		ReservationID: r.ReservationID,
		OrderID:       orderID,
		Quantity:      r.Quantity,
		Reason:        reason,
	})
}

// AllocateStock consumes the reservation held for orderID.
func (inv *Inventory) AllocateStock(orderID string) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	r, ok := inv.state.Reservations[orderID]
	if !ok {
		return newError(CodeNotFound, "no reservation for order %s on inventory %s", orderID, inv.ID())
	}
	if r.IsAllocated {
		return newError(CodeInvalidStatus, "reservation for order %s is already allocated", orderID)
	}

	available := inv.AvailableStock()
	if err := inv.raise(StockAllocated{
		ReservationID: r.ReservationID,
		OrderID:       orderID,
		Quantity:      r.Quantity,
	}); err != nil {
		return err
	}
	return inv.raiseAlerts(available)
}

func (inv *Inventory) UpdateThreshold(threshold int) error {
	if err := inv.requireCreated(); err != nil {
		return err
	}
	if threshold < 0 {
		return InvalidArgument("low stock threshold must not be negative, got %d", threshold)
	}
	if threshold == inv.state.LowStockThreshold {
		return nil
	}
	return inv.raise(LowStockThresholdUpdated{Threshold: threshold})
}

// raiseAlerts emits an alert when available stock crosses to zero or to the
// low-stock threshold. before is the available stock prior to the command.
func (inv *Inventory) raiseAlerts(before int) error {
	after := inv.AvailableStock()
	switch {
	case after == 0 && before > 0:
		return inv.raise(OutOfStockAlert{ProductID: inv.state.ProductID})
	case after > 0 && after <= inv.state.LowStockThreshold && before > inv.state.LowStockThreshold:
		return inv.raise(LowStockAlert{
			ProductID:      inv.state.ProductID,
			AvailableStock: after,
			Threshold:      inv.state.LowStockThreshold,
		})
	}
	return nil
}

func (inv *Inventory) reservationID(orderID string) string {
	return inv.ID() + ":" + orderID
}

func (inv *Inventory) apply(evt Event) error {
	s := &inv.state
	switch e := evt.Data.(type) {
	case InventoryCreated:
		s.ProductID = e.ProductID
		s.SKU = e.SKU
		s.CurrentStock = e.InitialStock
		s.LowStockThreshold = e.LowStockThreshold
		s.Reservations = map[string]Reservation{}
		s.CreatedAt = evt.Metadata.Timestamp

	case StockAdded:
		s.CurrentStock += e.Quantity

	case StockRemoved:
		s.CurrentStock -= e.Quantity

	case StockReserved:
		s.Reservations[e.OrderID] = Reservation{
			ReservationID: e.ReservationID,
			OrderID:       e.OrderID,
			Quantity:      e.Quantity,
			ReservedAt:    evt.Metadata.Timestamp,
			ExpiresAt:     e.ExpiresAt,
		}
		s.ReservedStock += e.Quantity

	case StockReleased:
		r, ok := s.Reservations[e.OrderID]
		if !ok {
			return fmt.Errorf("reservation for order %s not found", e.OrderID)
		}
		delete(s.Reservations, e.OrderID)
		s.ReservedStock -= r.Quantity

	case StockAllocated:
		r, ok := s.Reservations[e.OrderID]
		if !ok {
			return fmt.Errorf("reservation for order %s not found", e.OrderID)
		}
		r.IsAllocated = true
		s.Reservations[e.OrderID] = r
		s.ReservedStock -= r.Quantity
		s.CurrentStock -= r.Quantity

	case LowStockThresholdUpdated:
		s.LowStockThreshold = e.Threshold

	case LowStockAlert, OutOfStockAlert:
		// informational only

	default:
		return inv.unhandled(evt)
	}

	s.UpdatedAt = evt.Metadata.Timestamp
	return nil
}

func (inv *Inventory) SnapshotState() ([]byte, error) {
	return json.Marshal(inv.state)
}

func (inv *Inventory) RestoreSnapshot(version int, state []byte) error {
	var s InventoryState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("failed to restore inventory snapshot: %w", err)
	}
	if s.Reservations == nil {
		s.Reservations = map[string]Reservation{}
	}
	inv.state = s
	inv.restoreVersion(version)
	return nil
}
