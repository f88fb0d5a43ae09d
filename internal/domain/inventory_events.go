package domain

import "time"

// Inventory event types
const (
	InventoryCreatedType         = "InventoryCreated"
	StockAddedType               = "StockAdded"
	StockRemovedType             = "StockRemoved"
	StockReservedType            = "StockReserved"
	StockReleasedType            = "StockReleased"
	StockAllocatedType           = "StockAllocated"
	LowStockThresholdUpdatedType = "LowStockThresholdUpdated"
	LowStockAlertType            = "LowStockAlert"
	OutOfStockAlertType          = "OutOfStockAlert"
)

func init() {
	registerPayload[InventoryCreated]()
	registerPayload[StockAdded]()
	registerPayload[StockRemoved]()
	registerPayload[StockReserved]()
	registerPayload[StockReleased]()
	registerPayload[StockAllocated]()
	registerPayload[LowStockThresholdUpdated]()
	registerPayload[LowStockAlert]()
	registerPayload[OutOfStockAlert]()
}

type InventoryCreated struct {
	ProductID         string `json:"productId"`
	SKU               string `json:"sku,omitempty"`
	InitialStock      int    `json:"initialStock"`
	LowStockThreshold int    `json:"lowStockThreshold"`
}

type StockAdded struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

type StockRemoved struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// StockReserved holds stock for an order until ExpiresAt.
type StockReserved struct {
	ReservationID string    `json:"reservationId"`
	OrderID       string    `json:"orderId"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type StockReleased struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason,omitempty"`
}

// StockAllocated turns a reservation into a shipment: the quantity leaves
// both current and reserved stock.
type StockAllocated struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	Quantity      int    `json:"quantity"`
}

type LowStockThresholdUpdated struct {
	Threshold int `json:"threshold"`
}

// LowStockAlert and OutOfStockAlert are informational. They do not change
// stock levels.
type LowStockAlert struct {
	ProductID      string `json:"productId"`
	AvailableStock int    `json:"availableStock"`
	Threshold      int    `json:"threshold"`
}

type OutOfStockAlert struct {
	ProductID string `json:"productId"`
}

func (InventoryCreated) EventType() string         { return InventoryCreatedType }
func (StockAdded) EventType() string               { return StockAddedType }
func (StockRemoved) EventType() string             { return StockRemovedType }
func (StockReserved) EventType() string            { return StockReservedType }
func (StockReleased) EventType() string            { return StockReleasedType }
func (StockAllocated) EventType() string           { return StockAllocatedType }
func (LowStockThresholdUpdated) EventType() string { return LowStockThresholdUpdatedType }
func (LowStockAlert) EventType() string            { return LowStockAlertType }
func (OutOfStockAlert) EventType() string          { return OutOfStockAlertType }
