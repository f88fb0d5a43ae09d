package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/repository"
)

// DefaultReservationTTL is used when a reservation names no expiry.
const DefaultReservationTTL = 15 * time.Minute

// Inventory command structs
type CreateInventoryCommand struct {
	Meta
	InventoryID       string `json:"inventoryId"`
	ProductID         string `json:"productId" validate:"required"`
	SKU               string `json:"sku"`
	InitialStock      int    `json:"initialStock" validate:"gte=0"`
	LowStockThreshold int    `json:"lowStockThreshold" validate:"gte=0"`
}

type AdjustStockCommand struct {
	Meta
	InventoryID string `json:"inventoryId" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	Reason      string `json:"reason"`
}

type ReserveStockCommand struct {
	Meta
	InventoryID string    `json:"inventoryId" validate:"required"`
	OrderID     string    `json:"orderId" validate:"required"`
	Quantity    int       `json:"quantity" validate:"gt=0"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type ReleaseStockCommand struct {
	Meta
	InventoryID string `json:"inventoryId" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
	Reason      string `json:"reason"`
}

type AllocateStockCommand struct {
	Meta
	InventoryID string `json:"inventoryId" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
}

type UpdateThresholdCommand struct {
	Meta
	InventoryID string `json:"inventoryId" validate:"required"`
	Threshold   int    `json:"threshold" validate:"gte=0"`
}

// InventoryHandler handles all inventory-related commands
type InventoryHandler struct {
	runner *Runner
	repo   *repository.Repository[*domain.Inventory]
	now    func() time.Time
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(runner *Runner, repo *repository.Repository[*domain.Inventory]) *InventoryHandler {
	return &InventoryHandler{runner: runner, repo: repo, now: time.Now}
}

// HandleCreateInventory creates inventory for a product
func (h *InventoryHandler) HandleCreateInventory(ctx context.Context, cmd CreateInventoryCommand) (*domain.Inventory, error) {
	cmd.InventoryID = newID(cmd.InventoryID)
	log.Info().Str("aggregateID", cmd.InventoryID).Msg("Handling CreateInventory command")

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return create(ctx, h.runner, h.repo, "CreateInventory", cmd.InventoryID, cmd.Meta, func() (*domain.Inventory, error) {
		return domain.CreateInventory(cmd.InventoryID, cmd.ProductID, cmd.SKU, cmd.InitialStock, cmd.LowStockThreshold)
	})
}

func (h *InventoryHandler) HandleAddStock(ctx context.Context, cmd AdjustStockCommand) (*domain.Inventory, error) {
	return handle(ctx, h.runner, h.repo, "AddStock", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.AddStock(cmd.Quantity, cmd.Reason)
	})
}

func (h *InventoryHandler) HandleRemoveStock(ctx context.Context, cmd AdjustStockCommand) (*domain.Inventory, error) {
	return handle(ctx, h.runner, h.repo, "RemoveStock", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.RemoveStock(cmd.Quantity, cmd.Reason)
	})
}

// HandleReserveStock reserves stock for an order, expiring after
// DefaultReservationTTL unless the command names an expiry.
func (h *InventoryHandler) HandleReserveStock(ctx context.Context, cmd ReserveStockCommand) (*domain.Inventory, error) {
	now := h.now()
	if cmd.ExpiresAt.IsZero() {
		cmd.ExpiresAt = now.Add(DefaultReservationTTL)
	}
	return handle(ctx, h.runner, h.repo, "ReserveStock", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.ReserveStock(cmd.OrderID, cmd.Quantity, cmd.ExpiresAt, now)
	})
}

func (h *InventoryHandler) HandleReleaseStock(ctx context.Context, cmd ReleaseStockCommand) (*domain.Inventory, error) {
	return handle(ctx, h.runner, h.repo, "ReleaseStock", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.ReleaseStock(cmd.OrderID, cmd.Reason)
	})
}

func (h *InventoryHandler) HandleAllocateStock(ctx context.Context, cmd AllocateStockCommand) (*domain.Inventory, error) {
	return handle(ctx, h.runner, h.repo, "AllocateStock", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.AllocateStock(cmd.OrderID)
	})
}

func (h *InventoryHandler) HandleUpdateThreshold(ctx context.Context, cmd UpdateThresholdCommand) (*domain.Inventory, error) {
	return handle(ctx, h.runner, h.repo, "UpdateThreshold", cmd.InventoryID, cmd.Meta, cmd, func(inv *domain.Inventory) error {
		return inv.UpdateThreshold(cmd.Threshold)
	})
}

// GetInventory loads inventory for queries; ok is false when it does not exist.
func (h *InventoryHandler) GetInventory(ctx context.Context, id string) (*domain.Inventory, bool, error) {
	return h.repo.FindByID(ctx, id)
}
