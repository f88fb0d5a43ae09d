package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const PaymentAggregateType = "payment"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentState is the folded state of a payment.
type PaymentState struct {
	OrderID       string        `json:"orderId"`
	CustomerID    string        `json:"customerId"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"paymentMethod"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
	FailureCode   string        `json:"failureCode,omitempty"`
	RefundAmount  float64       `json:"refundAmount,omitempty"`
	RefundReason  string        `json:"refundReason,omitempty"`
	RefundID      string        `json:"refundId,omitempty"`
	CancelReason  string        `json:"cancelReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Payment struct {
	*AggregateBase
	state PaymentState
}

func NewPayment(id string) *Payment {
	p := &Payment{}
	p.AggregateBase = newAggregateBase(id, PaymentAggregateType, p.apply)
	return p
}

// CreatePayment opens a pending payment for an order.
func CreatePayment(id, orderID, customerID string, amount float64, currency, method string) (*Payment, error) {
	if blank(id) {
		return nil, InvalidArgument("payment id is required")
	}
	if blank(orderID) {
		return nil, InvalidArgument("order id is required")
	}
	if amount <= 0 {
		return nil, InvalidArgument("payment amount must be positive, got %.2f", amount)
	}
	if blank(currency) {
		currency = "USD"
	}

	p := NewPayment(id)
	if err := p.raise(PaymentCreated{
		OrderID:       orderID,
		CustomerID:    customerID,
		Amount:        roundMoney(amount),
		Currency:      strings.ToUpper(currency),
		PaymentMethod: method,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func PaymentFromEvents(id string, events []Event) (*Payment, error) {
	p := NewPayment(id)
	if err := p.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Payment) OrderID() string       { return p.state.OrderID }
func (p *Payment) Amount() float64       { return p.state.Amount }
func (p *Payment) Currency() string      { return p.state.Currency }
func (p *Payment) Status() PaymentStatus { return p.state.Status }
func (p *Payment) TransactionID() string { return p.state.TransactionID }
func (p *Payment) RefundAmount() float64 { return p.state.RefundAmount }
func (p *Payment) State() PaymentState   { return p.state }

func (p *Payment) requireStatus(action string, allowed PaymentStatus) error {
	if p.state.Status != allowed {
		return newError(CodeInvalidStatus, "cannot %s payment %s in status %s", action, p.ID(), p.state.Status)
	}
	return nil
}

func (p *Payment) Complete(transactionID string) error {
	if err := p.requireStatus("complete", PaymentStatusPending); err != nil {
		return err
	}
	if blank(transactionID) {
		return InvalidArgument("transaction id is required")
	}
	return p.raise(PaymentCompleted{TransactionID: transactionID})
}

func (p *Payment) Fail(reason, errorCode string) error {
	if err := p.requireStatus("fail", PaymentStatusPending); err != nil {
		return err
	}
	return p.raise(PaymentFailed{Reason: reason, ErrorCode: errorCode})
}

// Refund returns up to the original amount of a completed payment.
func (p *Payment) Refund(amount float64, reason, refundID string) error {
	if err := p.requireStatus("refund", PaymentStatusCompleted); err != nil {
		return err
	}
	if amount <= 0 {
		return InvalidArgument("refund amount must be positive, got %.2f", amount)
	}
	if roundMoney(amount) > p.state.Amount {
		return InvalidArgument("refund amount %.2f exceeds payment amount %.2f", amount, p.state.Amount)
	}
	return p.raise(PaymentRefunded{
		Amount:        roundMoney(amount),
		Reason:        reason,
		RefundID:      refundID,
		TransactionID: p.state.TransactionID,
	})
}

func (p *Payment) Cancel(reason string) error {
	if err := p.requireStatus("cancel", PaymentStatusPending); err != nil {
		return err
	}
	return p.raise(PaymentCancelled{Reason: reason})
}

func (p *Payment) apply(evt Event) error {
	s := &p.state
	switch e := evt.Data.(type) {
	case PaymentCreated:
		s.OrderID = e.OrderID
		s.CustomerID = e.CustomerID
		s.Amount = e.Amount
		s.Currency = e.Currency
		s.PaymentMethod = e.PaymentMethod
		s.Status = PaymentStatusPending
		s.CreatedAt = evt.Metadata.Timestamp

	case PaymentCompleted:
		s.Status = PaymentStatusCompleted
		s.TransactionID = e.TransactionID

	case PaymentFailed:
		s.Status = PaymentStatusFailed
		s.FailureReason = e.Reason
		s.FailureCode = e.ErrorCode

	case PaymentRefunded:
		s.Status = PaymentStatusRefunded
		s.RefundAmount = e.Amount
		s.RefundReason = e.Reason
		s.RefundID = e.RefundID

	case PaymentCancelled:
		s.Status = PaymentStatusCancelled
		s.CancelReason = e.Reason

	default:
		return p.unhandled(evt)
	}

	s.UpdatedAt = evt.Metadata.Timestamp
	return nil
}

func (p *Payment) SnapshotState() ([]byte, error) {
	return json.Marshal(p.state)
}

func (p *Payment) RestoreSnapshot(version int, state []byte) error {
	var s PaymentState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("failed to restore payment snapshot: %w", err)
	}
	p.state = s
	p.restoreVersion(version)
	return nil
}
