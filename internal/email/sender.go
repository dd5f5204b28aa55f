package email

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Sender delivers transactional mail over SMTP.
type Sender struct {
	client *mail.Client
	from   string
}

func NewSender(host string, port int, username, password, from string) (*Sender, error) {
	opts := []mail.Option{mail.WithPort(port)}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &Sender{client: client, from: from}, nil
}

func (s *Sender) SendOrderConfirmation(ctx context.Context, to, orderID string, total int64) error {
	body := fmt.Sprintf(`<h1>Thank you for your order!</h1>
<p>Your order has been placed.</p>
<ul>
<li>Order ID: %s</li>
<li>Total Amount: %.2f</li>
</ul>
<p>Complete the payment before the due date or the order will be cancelled automatically.</p>`,
		orderID, float64(total)/100)

	return s.send(ctx, to, "Order Confirmation - "+orderID, body)
}

func (s *Sender) SendOrderCancellation(ctx context.Context, to, orderID, reason string) error {
	body := fmt.Sprintf(`<h1>Order Cancelled</h1>
<p>Your order %s has been cancelled.</p>
<p>Reason: %s</p>
<p>Any pending payment for this order has been voided.</p>`,
		orderID, reason)

	return s.send(ctx, to, "Order Cancelled - "+orderID, body)
}

func (s *Sender) SendPaymentReceipt(ctx context.Context, to, orderID string, total int64) error {
	body := fmt.Sprintf(`<h1>Payment Received</h1>
<p>We received your payment for order %s.</p>
<p>Amount: %.2f</p>
<p>We will notify you when your order ships.</p>`,
		orderID, float64(total)/100)

	return s.send(ctx, to, "Payment Received - "+orderID, body)
}

func (s *Sender) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}
