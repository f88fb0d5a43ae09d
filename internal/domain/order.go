package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const OrderAggregateType = "order"

// OrderStatus moves forward only: pending -> confirmed -> payment_pending ->
// paid -> shipped -> delivered, with cancelled and refunded side branches.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

func (s OrderStatus) in(set ...OrderStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s.in(OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded)
}

// OrderItem is a line of an order. Total is Quantity * Price.
type OrderItem struct {
	ItemID    string  `json:"itemId"`
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Total     float64 `json:"total"`
}

// OrderItemInput describes an item to add to an order.
type OrderItemInput struct {
	ProductID string  `json:"productId" validate:"required"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
}

func (in OrderItemInput) validate() error {
	if blank(in.ProductID) {
		return InvalidArgument("item product id is required")
	}
	if in.Quantity <= 0 {
		return InvalidArgument("item quantity must be positive, got %d", in.Quantity)
	}
	if in.Price < 0 {
		return InvalidArgument("item price must not be negative, got %.2f", in.Price)
	}
	return nil
}

func (in OrderItemInput) toItem() OrderItem {
	return OrderItem{
		ItemID:    uuid.New().String(),
		ProductID: in.ProductID,
		SKU:       in.SKU,
		Quantity:  in.Quantity,
		Price:     in.Price,
		Total:     roundMoney(float64(in.Quantity) * in.Price),
	}
}

// OrderState is the folded state of an order.
type OrderState struct {
	CustomerID         string               `json:"customerId"`
	Items              map[string]OrderItem `json:"items"`
	TotalAmount        float64              `json:"totalAmount"`
	Status             OrderStatus          `json:"status"`
	ShippingAddress    Address              `json:"shippingAddress"`
	BillingAddress     Address              `json:"billingAddress"`
	PaymentID          string               `json:"paymentId,omitempty"`
	PaidAmount         float64              `json:"paidAmount,omitempty"`
	TrackingNumber     string               `json:"trackingNumber,omitempty"`
	Carrier            string               `json:"carrier,omitempty"`
	CancelledBy        string               `json:"cancelledBy,omitempty"`
	CancellationReason string               `json:"cancellationReason,omitempty"`
	RefundAmount       float64              `json:"refundAmount,omitempty"`
	RefundReason       string               `json:"refundReason,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// Order is the aggregate for an order
type Order struct {
	*AggregateBase
	state OrderState
}

// NewOrder returns a blank order ready to have its history loaded.
func NewOrder(id string) *Order {
	o := &Order{}
	o.AggregateBase = newAggregateBase(id, OrderAggregateType, o.apply)
	o.state.Items = map[string]OrderItem{}
	return o
}

// CreateOrder opens a new order with its initial items.
func CreateOrder(id, customerID string, items []OrderItemInput, shipping, billing Address) (*Order, error) {
	if blank(id) {
		return nil, InvalidArgument("order id is required")
	}
	if blank(customerID) {
		return nil, InvalidArgument("customer id is required")
	}
	if len(items) == 0 {
		return nil, InvalidArgument("an order needs at least one item")
	}

	lines := make([]OrderItem, 0, len(items))
	for _, in := range items {
		if err := in.validate(); err != nil {
			return nil, err
		}
		lines = append(lines, in.toItem())
	}

	o := NewOrder(id)
	if err := o.raise(OrderCreated{
		CustomerID:      customerID,
		Items:           lines,
		ShippingAddress: shipping,
		BillingAddress:  billing,
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// OrderFromEvents rebuilds an order from its committed events.
func OrderFromEvents(id string, events []Event) (*Order, error) {
	o := NewOrder(id)
	if err := o.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) CustomerID() string       { return o.state.CustomerID }
func (o *Order) Status() OrderStatus      { return o.state.Status }
func (o *Order) TotalAmount() float64     { return o.state.TotalAmount }
func (o *Order) ShippingAddress() Address { return o.state.ShippingAddress }
func (o *Order) BillingAddress() Address  { return o.state.BillingAddress }
func (o *Order) PaymentID() string        { return o.state.PaymentID }
func (o *Order) TrackingNumber() string   { return o.state.TrackingNumber }
func (o *Order) RefundAmount() float64    { return o.state.RefundAmount }

// Item returns a single order line.
func (o *Order) Item(itemID string) (OrderItem, bool) {
	item, ok := o.state.Items[itemID]
	return item, ok
}

// Items returns the order lines sorted by item id.
func (o *Order) Items() []OrderItem {
	out := make([]OrderItem, 0, len(o.state.Items))
	for _, item := range o.state.Items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// State returns a copy of the folded state.
func (o *Order) State() OrderState {
	s := o.state
	s.Items = copyMap(o.state.Items)
	return s
}

func (o *Order) requireCreated() error {
	if o.state.Status == "" {
		return NotFound(OrderAggregateType, o.ID())
	}
	return nil
}

func (o *Order) requireStatus(action string, allowed ...OrderStatus) error {
	if err := o.requireCreated(); err != nil {
		return err
	}
	if !o.state.Status.in(allowed...) {
		return newError(CodeInvalidStatus, "cannot %s order %s in status %s", action, o.ID(), o.state.Status)
	}
	return nil
}

func (o *Order) requireMutable(action string) error {
	if err := o.requireCreated(); err != nil {
		return err
	}
	if o.state.Status.in(OrderStatusCancelled, OrderStatusDelivered, OrderStatusRefunded) {
		return newError(CodeInvalidStatus, "cannot %s order %s in status %s", action, o.ID(), o.state.Status)
	}
	return nil
}

// AddItem adds a line and returns its generated id.
func (o *Order) AddItem(in OrderItemInput) (string, error) {
	if err := o.requireMutable("add item to"); err != nil {
		return "", err
	}
	if err := in.validate(); err != nil {
		return "", err
	}

	item := in.toItem()
	if err := o.raise(OrderItemAdded{Item: item}); err != nil {
		return "", err
	}
	return item.ItemID, nil
}

// UpdateItemQuantity changes the quantity of an existing line.
func (o *Order) UpdateItemQuantity(itemID string, quantity int) error {
	if err := o.requireMutable("update item of"); err != nil {
		return err
	}
	if _, ok := o.state.Items[itemID]; !ok {
		return newError(CodeNotFound, "item %s not found in order %s", itemID, o.ID())
	}
	if quantity <= 0 {
		return InvalidArgument("item quantity must be positive, got %d", quantity)
	}
	return o.raise(OrderItemQuantityUpdated{ItemID: itemID, Quantity: quantity})
}

// RemoveItem drops a line from the order.
func (o *Order) RemoveItem(itemID string) error {
	if err := o.requireMutable("remove item from"); err != nil {
		return err
	}
	if _, ok := o.state.Items[itemID]; !ok {
		return newError(CodeNotFound, "item %s not found in order %s", itemID, o.ID())
	}
	return o.raise(OrderItemRemoved{ItemID: itemID})
}

func (o *Order) UpdateShippingAddress(addr Address) error {
	if err := o.requireMutable("update shipping address of"); err != nil {
		return err
	}
	if addr.IsZero() {
		return InvalidArgument("shipping address is empty")
	}
	return o.raise(OrderShippingAddressUpdated{Address: addr})
}

func (o *Order) UpdateBillingAddress(addr Address) error {
	if err := o.requireMutable("update billing address of"); err != nil {
		return err
	}
	if addr.IsZero() {
		return InvalidArgument("billing address is empty")
	}
	return o.raise(OrderBillingAddressUpdated{Address: addr})
}

func (o *Order) Confirm() error {
	if err := o.requireStatus("confirm", OrderStatusPending); err != nil {
		return err
	}
	if len(o.state.Items) == 0 {
		return InvalidArgument("cannot confirm order %s without items", o.ID())
	}
	return o.raise(OrderConfirmed{})
}

// RequestPayment moves a confirmed order to payment_pending.
func (o *Order) RequestPayment(paymentID string) error {
	if err := o.requireStatus("request payment for", OrderStatusConfirmed); err != nil {
		return err
	}
	return o.raise(OrderPaymentRequested{PaymentID: paymentID, Amount: o.state.TotalAmount})
}

func (o *Order) MarkPaid(paymentID string, amount float64) error {
	if err := o.requireStatus("mark paid", OrderStatusPaymentPending); err != nil {
		return err
	}
	if blank(paymentID) {
		return InvalidArgument("payment id is required")
	}
	if roundMoney(amount) < o.state.TotalAmount {
		return InvalidArgument("paid amount %.2f is below order total %.2f", amount, o.state.TotalAmount)
	}
	return o.raise(OrderPaid{PaymentID: paymentID, Amount: roundMoney(amount)})
}

func (o *Order) Ship(trackingNumber, carrier string) error {
	if err := o.requireStatus("ship", OrderStatusPaid); err != nil {
		return err
	}
	if blank(trackingNumber) {
		return InvalidArgument("tracking number is required")
	}
	return o.raise(OrderShipped{TrackingNumber: trackingNumber, Carrier: carrier})
}

func (o *Order) Deliver() error {
	if err := o.requireStatus("deliver", OrderStatusShipped); err != nil {
		return err
	}
	return o.raise(OrderDelivered{})
}

// Cancel is allowed from every non-terminal status.
func (o *Order) Cancel(cancelledBy, reason string) error {
	if err := o.requireCreated(); err != nil {
		return err
	}
	if o.state.Status.IsTerminal() {
		return newError(CodeInvalidStatus, "cannot cancel order %s in status %s", o.ID(), o.state.Status)
	}
	return o.raise(OrderCancelled{
		CancelledBy:    cancelledBy,
		Reason:         reason,
		PreviousStatus: o.state.Status,
	})
}

func (o *Order) Refund(amount float64, reason string) error {
	if err := o.requireStatus("refund", OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered); err != nil {
		return err
	}
	if amount <= 0 {
		return InvalidArgument("refund amount must be positive, got %.2f", amount)
	}
	if roundMoney(amount) > o.state.TotalAmount {
		return InvalidArgument("refund amount %.2f exceeds order total %.2f", amount, o.state.TotalAmount)
	}
	return o.raise(OrderRefunded{Amount: roundMoney(amount), Reason: reason})
}

// apply applies an event to the order aggregate
func (o *Order) apply(evt Event) error {
	s := &o.state
	switch e := evt.Data.(type) {
	case OrderCreated:
		s.CustomerID = e.CustomerID
		s.Items = make(map[string]OrderItem, len(e.Items))
		for _, item := range e.Items {
			s.Items[item.ItemID] = item
		}
		s.ShippingAddress = e.ShippingAddress
		s.BillingAddress = e.BillingAddress
		s.Status = OrderStatusPending
		s.CreatedAt = evt.Metadata.Timestamp

	case OrderItemAdded:
		s.Items[e.Item.ItemID] = e.Item

	case OrderItemQuantityUpdated:
		item, ok := s.Items[e.ItemID]
		if !ok {
			return fmt.Errorf("item %s not found", e.ItemID)
		}
		item.Quantity = e.Quantity
		item.Total = roundMoney(float64(e.Quantity) * item.Price)
		s.Items[e.ItemID] = item

	case OrderItemRemoved:
		delete(s.Items, e.ItemID)

	case OrderShippingAddressUpdated:
		s.ShippingAddress = e.Address

	case OrderBillingAddressUpdated:
		s.BillingAddress = e.Address

	case OrderConfirmed:
		s.Status = OrderStatusConfirmed

	case OrderPaymentRequested:
		s.Status = OrderStatusPaymentPending
		if e.PaymentID != "" {
			s.PaymentID = e.PaymentID
		}

	case OrderPaid:
		s.Status = OrderStatusPaid
		s.PaymentID = e.PaymentID
		s.PaidAmount = e.Amount

	case OrderShipped:
		s.Status = OrderStatusShipped
		s.TrackingNumber = e.TrackingNumber
		s.Carrier = e.Carrier

	case OrderDelivered:
		s.Status = OrderStatusDelivered

	case OrderCancelled:
		s.Status = OrderStatusCancelled
		s.CancelledBy = e.CancelledBy
		s.CancellationReason = e.Reason

	case OrderRefunded:
		s.Status = OrderStatusRefunded
		s.RefundAmount = e.Amount
		s.RefundReason = e.Reason

	default:
		return o.unhandled(evt)
	}

	o.recomputeTotal()
	s.UpdatedAt = evt.Metadata.Timestamp
	return nil
}

func (o *Order) recomputeTotal() {
	var total float64
	for _, item := range o.state.Items {
		total += item.Total
	}
	o.state.TotalAmount = roundMoney(total)
}

// SnapshotState implements Snapshotter.
func (o *Order) SnapshotState() ([]byte, error) {
	return json.Marshal(o.state)
}

// RestoreSnapshot implements Snapshotter.
func (o *Order) RestoreSnapshot(version int, state []byte) error {
	var s OrderState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("failed to restore order snapshot: %w", err)
	}
	if s.Items == nil {
		s.Items = map[string]OrderItem{}
	}
	o.state = s
	o.restoreVersion(version)
	return nil
}
