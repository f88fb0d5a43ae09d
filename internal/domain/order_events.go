package domain

// Order event types
const (
	OrderCreatedType                = "OrderCreated"
	OrderItemAddedType              = "OrderItemAdded"
	OrderItemQuantityUpdatedType    = "OrderItemQuantityUpdated"
	OrderItemRemovedType            = "OrderItemRemoved"
	OrderShippingAddressUpdatedType = "OrderShippingAddressUpdated"
	OrderBillingAddressUpdatedType  = "OrderBillingAddressUpdated"
	OrderConfirmedType              = "OrderConfirmed"
	OrderPaymentRequestedType       = "OrderPaymentRequested"
	OrderPaidType                   = "OrderPaid"
	OrderShippedType                = "OrderShipped"
	OrderDeliveredType              = "OrderDelivered"
	OrderCancelledType              = "OrderCancelled"
	OrderRefundedType               = "OrderRefunded"
)

func init() {
	registerPayload[OrderCreated]()
	registerPayload[OrderItemAdded]()
	registerPayload[OrderItemQuantityUpdated]()
	registerPayload[OrderItemRemoved]()
	registerPayload[OrderShippingAddressUpdated]()
	registerPayload[OrderBillingAddressUpdated]()
	registerPayload[OrderConfirmed]()
	registerPayload[OrderPaymentRequested]()
	registerPayload[OrderPaid]()
	registerPayload[OrderShipped]()
	registerPayload[OrderDelivered]()
	registerPayload[OrderCancelled]()
	registerPayload[OrderRefunded]()
}

// OrderCreated opens an order stream.
type OrderCreated struct {
	CustomerID      string      `json:"customerId"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shippingAddress"`
	BillingAddress  Address     `json:"billingAddress"`
}

type OrderItemAdded struct {
	Item OrderItem `json:"item"`
}

type OrderItemQuantityUpdated struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type OrderItemRemoved struct {
	ItemID string `json:"itemId"`
}

type OrderShippingAddressUpdated struct {
	Address Address `json:"address"`
}

type OrderBillingAddressUpdated struct {
	Address Address `json:"address"`
}

type OrderConfirmed struct{}

type OrderPaymentRequested struct {
	PaymentID string  `json:"paymentId,omitempty"`
	Amount    float64 `json:"amount"`
}

type OrderPaid struct {
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
}

type OrderShipped struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier,omitempty"`
}

type OrderDelivered struct{}

type OrderCancelled struct {
	CancelledBy    string      `json:"cancelledBy"`
	Reason         string      `json:"reason"`
	PreviousStatus OrderStatus `json:"previousStatus"`
}

type OrderRefunded struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

func (OrderCreated) EventType() string                { return OrderCreatedType }
func (OrderItemAdded) EventType() string              { return OrderItemAddedType }
func (OrderItemQuantityUpdated) EventType() string    { return OrderItemQuantityUpdatedType }
func (OrderItemRemoved) EventType() string            { return OrderItemRemovedType }
func (OrderShippingAddressUpdated) EventType() string { return OrderShippingAddressUpdatedType }
func (OrderBillingAddressUpdated) EventType() string  { return OrderBillingAddressUpdatedType }
func (OrderConfirmed) EventType() string              { return OrderConfirmedType }
func (OrderPaymentRequested) EventType() string       { return OrderPaymentRequestedType }
func (OrderPaid) EventType() string                   { return OrderPaidType }
func (OrderShipped) EventType() string                { return OrderShippedType }
func (OrderDelivered) EventType() string              { return OrderDeliveredType }
func (OrderCancelled) EventType() string              { return OrderCancelledType }
func (OrderRefunded) EventType() string               { return OrderRefundedType }
