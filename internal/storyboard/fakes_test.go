package storyboard

import (
	"context"
	"sync"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
)

// fakeCredits is an in-memory CreditAPI.
type fakeCredits struct {
	mu          sync.Mutex
	points      int
	pricing     storyapi.Pricing
	deductErr   error
	deductCalls int
}

func (f *fakeCredits) Profile(ctx context.Context, token string) (*storyapi.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &storyapi.Profile{User: storyapi.User{ID: "u1", Points: f.points}, Config: f.pricing}, nil
}

func (f *fakeCredits) Deduct(ctx context.Context, token string, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deductCalls++
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	if f.points < amount {
		return 0, storyapi.ErrInsufficientCredits
	}
	f.points -= amount
	return f.points, nil
}

func (f *fakeCredits) CreateCheckout(ctx context.Context, token string) (string, error) {
	return "https://checkout.example/session", nil
}

func (f *fakeCredits) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deductCalls
}

// fakeImages answers by prompt; prompts listed in fail get an error.
type fakeImages struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fail    map[string]error
	urlFor  func(prompt string) string
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if err, ok := f.fail[prompt]; ok {
		return "", err
	}
	if f.urlFor != nil {
		return f.urlFor(prompt), nil
	}
	return "http://img/" + prompt, nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
