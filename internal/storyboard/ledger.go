package storyboard

import (
	"context"
	"sync"
	"time"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const pricingKey = "pricing"

// CreditAPI is the remote points ledger.
type CreditAPI interface {
	Profile(ctx context.Context, token string) (*storyapi.Profile, error)
	Deduct(ctx context.Context, token string, amount int) (int, error)
	CreateCheckout(ctx context.Context, token string) (string, error)
}

// Ledger is the client side of the points ledger. The server owns the balance;
// the cached value here is advisory and only ever replaced by server responses.
type Ledger struct {
	api     CreditAPI
	logger  *zap.Logger
	pricing *cache.Cache

	mu     sync.RWMutex
	token  string
	points *int
}

func NewLedger(api CreditAPI, pricingTTL time.Duration, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricingTTL <= 0 {
		pricingTTL = 10 * time.Minute
	}
	return &Ledger{
		api:    api,
		logger: logger,
		// 不启动 janitor 协程，过期项在 Get 时判定
		pricing: cache.New(pricingTTL, 0),
	}
}

// SetSession binds the bearer credential. An empty token signs the user out and forgets the balance.
func (l *Ledger) SetSession(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token != l.token {
		l.points = nil
	}
	l.token = token
}

func (l *Ledger) session() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.token
}

// Points returns the last balance reported by the server, if any.
func (l *Ledger) Points() (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.points == nil {
		return 0, false
	}
	return *l.points, true
}

func (l *Ledger) setPoints(p int) {
	l.mu.Lock()
	l.points = &p
	l.mu.Unlock()
}

// Refresh reloads the balance and pricing from the profile endpoint.
func (l *Ledger) Refresh(ctx context.Context) (*storyapi.Profile, error) {
	token := l.session()
	if token == "" {
		return nil, ErrAuthRequired
	}
	profile, err := l.api.Profile(ctx, token)
	if err != nil {
		return nil, err
	}
	l.setPoints(profile.User.Points)
	l.pricing.SetDefault(pricingKey, profile.Config)
	return profile, nil
}

// Pricing returns the cached pricing, falling back to the defaults when it was never loaded.
func (l *Ledger) Pricing() storyapi.Pricing {
	if v, ok := l.pricing.Get(pricingKey); ok {
		return v.(storyapi.Pricing)
	}
	return storyapi.DefaultPricing
}

// Authorize asks the server to deduct cost points before a paid operation.
// There is no local pre-check and no retry: the server is the only authority.
func (l *Ledger) Authorize(ctx context.Context, cost int) (int, error) {
	token := l.session()
	if token == "" {
		return 0, ErrAuthRequired
	}
	remaining, err := l.api.Deduct(ctx, token, cost)
	if err != nil {
		l.logger.Info("authorization refused", zap.Int("cost", cost), zap.Error(err))
		return 0, err
	}
	l.setPoints(remaining)
	l.logger.Debug("authorized", zap.Int("cost", cost), zap.Int("remaining", remaining))
	return remaining, nil
}

// Checkout returns the hosted payment page for a points purchase.
func (l *Ledger) Checkout(ctx context.Context) (string, error) {
	token := l.session()
	if token == "" {
		return "", ErrAuthRequired
	}
	return l.api.CreateCheckout(ctx, token)
}
