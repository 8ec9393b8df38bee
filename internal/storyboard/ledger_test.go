package storyboard

import (
	"context"
	"errors"
	"testing"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeWithoutSession(t *testing.T) {
	api := &fakeCredits{points: 10}
	l := NewLedger(api, 0, nil)

	_, err := l.Authorize(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Zero(t, api.calls(), "no network call without a session")

	_, err = l.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	_, err = l.Checkout(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAuthorizeReplacesCachedBalance(t *testing.T) {
	api := &fakeCredits{points: 3}
	l := NewLedger(api, 0, nil)
	l.SetSession("tok")

	_, known := l.Points()
	assert.False(t, known)

	remaining, err := l.Authorize(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	points, known := l.Points()
	assert.True(t, known)
	assert.Equal(t, 2, points)

	// server state changed elsewhere; the client follows the server, not its own arithmetic
	api.mu.Lock()
	api.points = 10
	api.mu.Unlock()
	remaining, err = l.Authorize(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

func TestAuthorizeDoesNotRetry(t *testing.T) {
	api := &fakeCredits{points: 3, deductErr: &storyapi.TransportError{Op: "deduct", Err: errors.New("reset")}}
	l := NewLedger(api, 0, nil)
	l.SetSession("tok")

	_, err := l.Authorize(context.Background(), 1)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 1, api.calls())
	_, known := l.Points()
	assert.False(t, known, "failed authorization leaves the cache alone")
}

func TestAuthorizeInsufficient(t *testing.T) {
	api := &fakeCredits{points: 0}
	l := NewLedger(api, 0, nil)
	l.SetSession("tok")

	_, err := l.Authorize(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestRefreshLoadsPricing(t *testing.T) {
	api := &fakeCredits{points: 7, pricing: storyapi.Pricing{PointsPerPurchase: 20, CostPerGeneration: 2}}
	l := NewLedger(api, 0, nil)
	assert.Equal(t, storyapi.DefaultPricing, l.Pricing())

	l.SetSession("tok")
	_, err := l.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, l.Pricing().CostPerGeneration)
	points, _ := l.Points()
	assert.Equal(t, 7, points)
}

func TestSetSessionForgetsBalance(t *testing.T) {
	l := NewLedger(&fakeCredits{points: 5}, 0, nil)
	l.SetSession("a")
	_, err := l.Authorize(context.Background(), 1)
	require.NoError(t, err)

	l.SetSession("b")
	_, known := l.Points()
	assert.False(t, known)
}
