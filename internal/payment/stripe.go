package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured    = errors.New("payments are not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Completion is a paid checkout session credited to UserID.
type Completion struct {
	SessionID string
	UserID    string
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	FrontendURL   string
}

// Stripe creates checkout sessions and verifies webhook deliveries.
type Stripe struct {
	api    *client.API
	cfg    Config
	logger *zap.Logger
}

func NewStripe(cfg Config, logger *zap.Logger) *Stripe {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stripe{cfg: cfg, logger: logger}
	if cfg.SecretKey != "" {
		s.api = &client.API{}
		s.api.Init(cfg.SecretKey, nil)
	}
	return s
}

// CreateCheckout opens a one-item payment session for userID and returns its URL.
func (s *Stripe) CreateCheckout(ctx context.Context, userID, email string) (string, error) {
	if s.api == nil || s.cfg.PriceID == "" {
		return "", ErrNotConfigured
	}
	frontend := strings.TrimSuffix(s.cfg.FrontendURL, "/")
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.cfg.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(frontend + "/payment-success"),
		CancelURL:         stripe.String(frontend + "/"),
		ClientReferenceID: stripe.String(userID),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	s.logger.Info("checkout session created", zap.String("user_id", userID), zap.String("session_id", sess.ID))
	return sess.URL, nil
}

// ParseWebhook verifies the delivery and returns the completion it reports.
// Events other than checkout.session.completed yield (nil, nil).
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Completion, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.logger.Debug("ignoring stripe event", zap.String("type", string(event.Type)))
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if sess.ClientReferenceID == "" {
		return nil, fmt.Errorf("checkout session %s has no client reference", sess.ID)
	}
	return &Completion{SessionID: sess.ID, UserID: sess.ClientReferenceID}, nil
}
