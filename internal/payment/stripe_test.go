package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const whsec = "whsec_test_secret"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    whsec,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestParseWebhookCompleted(t *testing.T) {
	s := NewStripe(Config{WebhookSecret: whsec}, nil)
	header, body := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"user-7"}}}`)

	c, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "user-7", c.UserID)
	assert.Equal(t, "cs_1", c.SessionID)
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	s := NewStripe(Config{WebhookSecret: whsec}, nil)
	header, body := signed(t, `{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	c, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestParseWebhookRejects(t *testing.T) {
	s := NewStripe(Config{WebhookSecret: whsec}, nil)
	_, body := signed(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := s.ParseWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	header, body := signed(t, `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2"}}}`)
	_, err = s.ParseWebhook(body, header)
	assert.ErrorContains(t, err, "no client reference")
}

func TestNotConfigured(t *testing.T) {
	s := NewStripe(Config{}, nil)
	_, err := s.CreateCheckout(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.ParseWebhook([]byte(`{}`), "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
