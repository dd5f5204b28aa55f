package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"marketplace/internal/domain"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type MailSender interface {
	SendOrderConfirmation(ctx context.Context, to, orderID string, total int64) error
	SendOrderCancellation(ctx context.Context, to, orderID, reason string) error
	SendPaymentReceipt(ctx context.Context, to, orderID string, total int64) error
}

// EmailHandler turns order lifecycle events into buyer emails. Send
// failures are logged and swallowed so a flaky SMTP server cannot stall
// event consumption.
type EmailHandler struct {
	users  UserStore
	sender MailSender
	logger *slog.Logger
}

func NewEmailHandler(users UserStore, sender MailSender, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{users: users, sender: sender, logger: logger}
}

func (h *EmailHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}

	h.logger.Info("processing order event", "type", event.Type, "order_id", event.OrderID)

	user, err := h.users.GetByID(ctx, event.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer %s: %w", event.BuyerID, err)
	}
	if user == nil || user.Email == "" {
		h.logger.Warn("buyer has no email, skipping", "buyer_id", event.BuyerID, "order_id", event.OrderID)
		return nil
	}

	switch event.Type {
	case domain.EventOrderCreated:
		err = h.sender.SendOrderConfirmation(ctx, user.Email, event.OrderID, event.Total)
	case domain.EventOrderCancelled:
		err = h.sender.SendOrderCancellation(ctx, user.Email, event.OrderID, event.Reason)
	case domain.EventOrderPaid:
		err = h.sender.SendPaymentReceipt(ctx, user.Email, event.OrderID, event.Total)
	default:
		h.logger.Warn("unknown event type, skipping", "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	if err != nil {
		h.logger.Error("failed to send email", "error", err, "type", event.Type, "order_id", event.OrderID)
	}

	return nil
}
