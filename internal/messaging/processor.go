package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/handlers"
)

// Command type definitions
const (
	// User
	RegisterUser      = "RegisterUser"
	UpdateUserProfile = "UpdateUserProfile"
	ChangeUserEmail   = "ChangeUserEmail"
	AddUserAddress    = "AddUserAddress"
	RemoveUserAddress = "RemoveUserAddress"
	ChangeUserRole    = "ChangeUserRole"
	DeactivateUser    = "DeactivateUser"
	ReactivateUser    = "ReactivateUser"

	// Product
	CreateProduct          = "CreateProduct"
	UpdateProductDetails   = "UpdateProductDetails"
	ChangeProductPrice     = "ChangeProductPrice"
	UpdateProductStock     = "UpdateProductStock"
	ChangeProductCategory  = "ChangeProductCategory"
	AddProductImage        = "AddProductImage"
	RemoveProductImage     = "RemoveProductImage"
	SetProductAttribute    = "SetProductAttribute"
	RemoveProductAttribute = "RemoveProductAttribute"
	DiscontinueProduct     = "DiscontinueProduct"
	ReactivateProduct      = "ReactivateProduct"

	// Order
	CreateOrder             = "CreateOrder"
	AddOrderItem            = "AddOrderItem"
	UpdateOrderItemQuantity = "UpdateOrderItemQuantity"
	RemoveOrderItem         = "RemoveOrderItem"
	UpdateShippingAddress   = "UpdateShippingAddress"
	UpdateBillingAddress    = "UpdateBillingAddress"
	ConfirmOrder            = "ConfirmOrder"
	RequestOrderPayment     = "RequestOrderPayment"
	MarkOrderPaid           = "MarkOrderPaid"
	ShipOrder               = "ShipOrder"
	DeliverOrder            = "DeliverOrder"
	CancelOrder             = "CancelOrder"
	RefundOrder             = "RefundOrder"

	// Payment
	CreatePayment   = "CreatePayment"
	CompletePayment = "CompletePayment"
	FailPayment     = "FailPayment"
	RefundPayment   = "RefundPayment"
	CancelPayment   = "CancelPayment"

	// Inventory
	CreateInventory = "CreateInventory"
	AddStock        = "AddStock"
	RemoveStock     = "RemoveStock"
	ReserveStock    = "ReserveStock"
	ReleaseStock    = "ReleaseStock"
	AllocateStock   = "AllocateStock"
	UpdateThreshold = "UpdateThreshold"
)

// ErrUnknownCommand is returned for a command type no handler is routed for.
var ErrUnknownCommand = errors.New("unknown command type")

type route func(ctx context.Context, cmd eventbus.Command) error

// Handlers groups the per-aggregate command handlers the processor routes to.
type Handlers struct {
	Users     *handlers.UserHandler
	Products  *handlers.ProductHandler
	Orders    *handlers.OrderHandler
	Payments  *handlers.PaymentHandler
	Inventory *handlers.InventoryHandler
}

// Processor routes commands from the command channel to their handlers.
type Processor struct {
	routes map[string]route
}

// NewProcessor creates a processor for every handler set in h.
func NewProcessor(h Handlers) *Processor {
	p := &Processor{routes: make(map[string]route)}

	if u := h.Users; u != nil {
		p.routes[RegisterUser] = bind(u.HandleRegisterUser)
		p.routes[UpdateUserProfile] = bind(u.HandleUpdateUserProfile)
		p.routes[ChangeUserEmail] = bind(u.HandleChangeUserEmail)
		p.routes[AddUserAddress] = bind(u.HandleAddUserAddress)
		p.routes[RemoveUserAddress] = bind(u.HandleRemoveUserAddress)
		p.routes[ChangeUserRole] = bind(u.HandleChangeUserRole)
		p.routes[DeactivateUser] = bind(u.HandleDeactivateUser)
		p.routes[ReactivateUser] = bind(u.HandleReactivateUser)
	}

	if pr := h.Products; pr != nil {
		p.routes[CreateProduct] = bind(pr.HandleCreateProduct)
		p.routes[UpdateProductDetails] = bind(pr.HandleUpdateProductDetails)
		p.routes[ChangeProductPrice] = bind(pr.HandleChangeProductPrice)
		p.routes[UpdateProductStock] = bind(pr.HandleUpdateProductStock)
		p.routes[ChangeProductCategory] = bind(pr.HandleChangeProductCategory)
		p.routes[AddProductImage] = bind(pr.HandleAddProductImage)
		p.routes[RemoveProductImage] = bind(pr.HandleRemoveProductImage)
		p.routes[SetProductAttribute] = bind(pr.HandleSetProductAttribute)
		p.routes[RemoveProductAttribute] = bind(pr.HandleRemoveProductAttribute)
		p.routes[DiscontinueProduct] = bind(pr.HandleDiscontinueProduct)
		p.routes[ReactivateProduct] = bind(pr.HandleReactivateProduct)
	}

	if o := h.Orders; o != nil {
		p.routes[CreateOrder] = bind(o.HandleCreateOrder)
		p.routes[AddOrderItem] = bind(o.HandleAddOrderItem)
		p.routes[UpdateOrderItemQuantity] = bind(o.HandleUpdateOrderItemQuantity)
		p.routes[RemoveOrderItem] = bind(o.HandleRemoveOrderItem)
		p.routes[UpdateShippingAddress] = bind(o.HandleUpdateShippingAddress)
		p.routes[UpdateBillingAddress] = bind(o.HandleUpdateBillingAddress)
		p.routes[ConfirmOrder] = bind(o.HandleConfirmOrder)
		p.routes[RequestOrderPayment] = bind(o.HandleRequestOrderPayment)
		p.routes[MarkOrderPaid] = bind(o.HandleMarkOrderPaid)
		p.routes[ShipOrder] = bind(o.HandleShipOrder)
		p.routes[DeliverOrder] = bind(o.HandleDeliverOrder)
		p.routes[CancelOrder] = bind(o.HandleCancelOrder)
		p.routes[RefundOrder] = bind(o.HandleRefundOrder)
	}

	if pay := h.Payments; pay != nil {
		p.routes[CreatePayment] = bind(pay.HandleCreatePayment)
		p.routes[CompletePayment] = bind(pay.HandleCompletePayment)
		p.routes[FailPayment] = bind(pay.HandleFailPayment)
		p.routes[RefundPayment] = bind(pay.HandleRefundPayment)
		p.routes[CancelPayment] = bind(pay.HandleCancelPayment)
	}

	if inv := h.Inventory; inv != nil {
		p.routes[CreateInventory] = bind(inv.HandleCreateInventory)
		p.routes[AddStock] = bind(inv.HandleAddStock)
		p.routes[RemoveStock] = bind(inv.HandleRemoveStock)
		p.routes[ReserveStock] = bind(inv.HandleReserveStock)
		p.routes[ReleaseStock] = bind(inv.HandleReleaseStock)
		p.routes[AllocateStock] = bind(inv.HandleAllocateStock)
		p.routes[UpdateThreshold] = bind(inv.HandleUpdateThreshold)
	}

	return p
}

// CommandTypes lists the routed command types in order.
func (p *Processor) CommandTypes() []string {
	out := make([]string, 0, len(p.routes))
	for t := range p.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Handles reports whether commandType is routed.
func (p *Processor) Handles(commandType string) bool {
	_, ok := p.routes[commandType]
	return ok
}

// ProcessCommand executes cmd. A nil return acknowledges the command:
// rejected commands and commands whose events await the relay are not
// retried. Decode, routing and infrastructure failures are returned so the
// bus requeues the command.
func (p *Processor) ProcessCommand(ctx context.Context, cmd eventbus.Command) error {
	log.Info().
		Str("commandType", cmd.CommandType).
		Str("commandID", cmd.CommandID).
		Msg("Processing command")

	r, ok := p.routes[cmd.CommandType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.CommandType)
	}

	err := r(ctx, cmd)
	switch {
	case err == nil:
		return nil
	case domain.IsDomainError(err):
		log.Warn().
			Err(err).
			Str("commandType", cmd.CommandType).
			Str("commandID", cmd.CommandID).
			Msg("Command rejected")
		return nil
	case errors.Is(err, handlers.ErrNotPublished):
		log.Warn().
			Err(err).
			Str("commandID", cmd.CommandID).
			Msg("Command applied, events left for the relay")
		return nil
	default:
		return err
	}
}

// bind adapts a typed handler method to a route.
func bind[C any, R any](fn func(context.Context, C) (R, error)) route {
	return func(ctx context.Context, cmd eventbus.Command) error {
		var c C
		if err := cmd.Decode(&c); err != nil {
			return err
		}
		if m, ok := any(&c).(interface {
			Inherit(userID, correlationID, causationID string)
		}); ok {
			m.Inherit(cmd.Metadata.UserID, cmd.Metadata.CorrelationID, cmd.CommandID)
		}
		_, err := fn(ctx, c)
		return err
	}
}
