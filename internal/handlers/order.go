package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/repository"
)

// Order command structs
type CreateOrderCommand struct {
	Meta
	OrderID         string                  `json:"orderId"`
	CustomerID      string                  `json:"customerId" validate:"required"`
	Items           []domain.OrderItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress domain.Address          `json:"shippingAddress"`
	BillingAddress  domain.Address          `json:"billingAddress"`
}

type AddOrderItemCommand struct {
	Meta
	OrderID string                `json:"orderId" validate:"required"`
	Item    domain.OrderItemInput `json:"item"`
}

type UpdateOrderItemQuantityCommand struct {
	Meta
	OrderID  string `json:"orderId" validate:"required"`
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type RemoveOrderItemCommand struct {
	Meta
	OrderID string `json:"orderId" validate:"required"`
	ItemID  string `json:"itemId" validate:"required"`
}

type UpdateOrderAddressCommand struct {
	Meta
	OrderID string         `json:"orderId" validate:"required"`
	Address domain.Address `json:"address"`
}

type OrderCommand struct {
	Meta
	OrderID string `json:"orderId" validate:"required"`
}

type RequestOrderPaymentCommand struct {
	Meta
	OrderID   string `json:"orderId" validate:"required"`
	PaymentID string `json:"paymentId" validate:"required"`
}

type MarkOrderPaidCommand struct {
	Meta
	OrderID   string  `json:"orderId" validate:"required"`
	PaymentID string  `json:"paymentId" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
}

type ShipOrderCommand struct {
	Meta
	OrderID        string `json:"orderId" validate:"required"`
	TrackingNumber string `json:"trackingNumber" validate:"required"`
	Carrier        string `json:"carrier"`
}

type CancelOrderCommand struct {
	Meta
	OrderID     string `json:"orderId" validate:"required"`
	CancelledBy string `json:"cancelledBy" validate:"required"`
	Reason      string `json:"reason"`
}

type RefundOrderCommand struct {
	Meta
	OrderID string  `json:"orderId" validate:"required"`
	Amount  float64 `json:"amount" validate:"gt=0"`
	Reason  string  `json:"reason"`
}

// OrderHandler handles all order-related commands
type OrderHandler struct {
	runner *Runner
	repo   *repository.Repository[*domain.Order]
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(runner *Runner, repo *repository.Repository[*domain.Order]) *OrderHandler {
	return &OrderHandler{runner: runner, repo: repo}
}

// HandleCreateOrder creates a new order
func (h *OrderHandler) HandleCreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	cmd.OrderID = newID(cmd.OrderID)
	log.Info().Str("aggregateID", cmd.OrderID).Msg("Handling CreateOrder command")

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return create(ctx, h.runner, h.repo, "CreateOrder", cmd.OrderID, cmd.Meta, func() (*domain.Order, error) {
		return domain.CreateOrder(cmd.OrderID, cmd.CustomerID, cmd.Items, cmd.ShippingAddress, cmd.BillingAddress)
	})
}

// HandleAddOrderItem adds an item and returns its id
func (h *OrderHandler) HandleAddOrderItem(ctx context.Context, cmd AddOrderItemCommand) (string, error) {
	var itemID string
	_, err := handle(ctx, h.runner, h.repo, "AddOrderItem", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		id, err := o.AddItem(cmd.Item)
		itemID = id
		return err
	})
	return itemID, err
}

func (h *OrderHandler) HandleUpdateOrderItemQuantity(ctx context.Context, cmd UpdateOrderItemQuantityCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "UpdateOrderItemQuantity", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.UpdateItemQuantity(cmd.ItemID, cmd.Quantity)
	})
}

func (h *OrderHandler) HandleRemoveOrderItem(ctx context.Context, cmd RemoveOrderItemCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "RemoveOrderItem", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.RemoveItem(cmd.ItemID)
	})
}

func (h *OrderHandler) HandleUpdateShippingAddress(ctx context.Context, cmd UpdateOrderAddressCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "UpdateShippingAddress", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.UpdateShippingAddress(cmd.Address)
	})
}

func (h *OrderHandler) HandleUpdateBillingAddress(ctx context.Context, cmd UpdateOrderAddressCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "UpdateBillingAddress", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.UpdateBillingAddress(cmd.Address)
	})
}

func (h *OrderHandler) HandleConfirmOrder(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "ConfirmOrder", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.Confirm()
	})
}

func (h *OrderHandler) HandleRequestOrderPayment(ctx context.Context, cmd RequestOrderPaymentCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "RequestOrderPayment", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.RequestPayment(cmd.PaymentID)
	})
}

func (h *OrderHandler) HandleMarkOrderPaid(ctx context.Context, cmd MarkOrderPaidCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "MarkOrderPaid", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.MarkPaid(cmd.PaymentID, cmd.Amount)
	})
}

func (h *OrderHandler) HandleShipOrder(ctx context.Context, cmd ShipOrderCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "ShipOrder", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.Ship(cmd.TrackingNumber, cmd.Carrier)
	})
}

func (h *OrderHandler) HandleDeliverOrder(ctx context.Context, cmd OrderCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "DeliverOrder", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.Deliver()
	})
}

func (h *OrderHandler) HandleCancelOrder(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "CancelOrder", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.Cancel(cmd.CancelledBy, cmd.Reason)
	})
}

func (h *OrderHandler) HandleRefundOrder(ctx context.Context, cmd RefundOrderCommand) (*domain.Order, error) {
	return handle(ctx, h.runner, h.repo, "RefundOrder", cmd.OrderID, cmd.Meta, cmd, func(o *domain.Order) error {
		return o.Refund(cmd.Amount, cmd.Reason)
	})
}

// GetOrder loads an order for queries; ok is false when it does not exist.
func (h *OrderHandler) GetOrder(ctx context.Context, id string) (*domain.Order, bool, error) {
	return h.repo.FindByID(ctx, id)
}
