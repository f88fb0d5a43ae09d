package domain

// Payment event types
const (
	PaymentCreatedType   = "PaymentCreated"
	PaymentCompletedType = "PaymentCompleted"
	PaymentFailedType    = "PaymentFailed"
	PaymentRefundedType  = "PaymentRefunded"
	PaymentCancelledType = "PaymentCancelled"
)

func init() {
	registerPayload[PaymentCreated]()
	registerPayload[PaymentCompleted]()
	registerPayload[PaymentFailed]()
	registerPayload[PaymentRefunded]()
	registerPayload[PaymentCancelled]()
}

type PaymentCreated struct {
	OrderID       string  `json:"orderId"`
	CustomerID    string  `json:"customerId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"paymentMethod"`
}

// PaymentCompleted records the gateway's transaction id.
type PaymentCompleted struct {
	TransactionID string `json:"transactionId"`
}

type PaymentFailed struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type PaymentRefunded struct {
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
	RefundID      string  `json:"refundId,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
}

type PaymentCancelled struct {
	Reason string `json:"reason"`
}

func (PaymentCreated) EventType() string   { return PaymentCreatedType }
func (PaymentCompleted) EventType() string { return PaymentCompletedType }
func (PaymentFailed) EventType() string    { return PaymentFailedType }
func (PaymentRefunded) EventType() string  { return PaymentRefundedType }
func (PaymentCancelled) EventType() string { return PaymentCancelledType }
