package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/repository"
)

// Payment command structs
type CreatePaymentCommand struct {
	Meta
	PaymentID  string  `json:"paymentId"`
	OrderID    string  `json:"orderId" validate:"required"`
	CustomerID string  `json:"customerId" validate:"required"`
	Amount     float64 `json:"amount" validate:"gt=0"`
	Currency   string  `json:"currency" validate:"omitempty,len=3"`
	Method     string  `json:"method" validate:"required"`
}

type CompletePaymentCommand struct {
	Meta
	PaymentID     string `json:"paymentId" validate:"required"`
	TransactionID string `json:"transactionId" validate:"required"`
}

type FailPaymentCommand struct {
	Meta
	PaymentID string `json:"paymentId" validate:"required"`
	Reason    string `json:"reason"`
	ErrorCode string `json:"errorCode"`
}

type RefundPaymentCommand struct {
	Meta
	PaymentID string  `json:"paymentId" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Reason    string  `json:"reason"`
	RefundID  string  `json:"refundId"`
}

type CancelPaymentCommand struct {
	Meta
	PaymentID string `json:"paymentId" validate:"required"`
	Reason    string `json:"reason"`
}

// PaymentHandler handles all payment-related commands
type PaymentHandler struct {
	runner *Runner
	repo   *repository.Repository[*domain.Payment]
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(runner *Runner, repo *repository.Repository[*domain.Payment]) *PaymentHandler {
	return &PaymentHandler{runner: runner, repo: repo}
}

// HandleCreatePayment creates a pending payment
func (h *PaymentHandler) HandleCreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*domain.Payment, error) {
	cmd.PaymentID = newID(cmd.PaymentID)
	log.Info().Str("aggregateID", cmd.PaymentID).Msg("Handling CreatePayment command")

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return create(ctx, h.runner, h.repo, "CreatePayment", cmd.PaymentID, cmd.Meta, func() (*domain.Payment, error) {
		return domain.CreatePayment(cmd.PaymentID, cmd.OrderID, cmd.CustomerID, cmd.Amount, cmd.Currency, cmd.Method)
	})
}

func (h *PaymentHandler) HandleCompletePayment(ctx context.Context, cmd CompletePaymentCommand) (*domain.Payment, error) {
	return handle(ctx, h.runner, h.repo, "CompletePayment", cmd.PaymentID, cmd.Meta, cmd, func(p *domain.Payment) error {
		return p.Complete(cmd.TransactionID)
	})
}

func (h *PaymentHandler) HandleFailPayment(ctx context.Context, cmd FailPaymentCommand) (*domain.Payment, error) {
	return handle(ctx, h.runner, h.repo, "FailPayment", cmd.PaymentID, cmd.Meta, cmd, func(p *domain.Payment) error {
		return p.Fail(cmd.Reason, cmd.ErrorCode)
	})
}

// HandleRefundPayment refunds a completed payment, generating a refund id
// when the command carries none.
func (h *PaymentHandler) HandleRefundPayment(ctx context.Context, cmd RefundPaymentCommand) (*domain.Payment, error) {
	cmd.RefundID = newID(cmd.RefundID)
	return handle(ctx, h.runner, h.repo, "RefundPayment", cmd.PaymentID, cmd.Meta, cmd, func(p *domain.Payment) error {
		return p.Refund(cmd.Amount, cmd.Reason, cmd.RefundID)
	})
}

func (h *PaymentHandler) HandleCancelPayment(ctx context.Context, cmd CancelPaymentCommand) (*domain.Payment, error) {
	return handle(ctx, h.runner, h.repo, "CancelPayment", cmd.PaymentID, cmd.Meta, cmd, func(p *domain.Payment) error {
		return p.Cancel(cmd.Reason)
	})
}

// GetPayment loads a payment for queries; ok is false when it does not exist.
func (h *PaymentHandler) GetPayment(ctx context.Context, id string) (*domain.Payment, bool, error) {
	return h.repo.FindByID(ctx, id)
}
