package storyboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newLedger(points int) (*Ledger, *fakeCredits) {
	api := &fakeCredits{points: points}
	l := NewLedger(api, 0, nil)
	l.SetSession("tok")
	return l, api
}

func TestRenderSceneSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := seeded(t, "a")
	ledger, api := newLedger(5)
	images := &fakeImages{}

	err := NewRenderer(store, ledger, images, nil).RenderScene(context.Background(), "a")
	require.NoError(t, err)

	sc, _ := store.Get("a")
	assert.Equal(t, StatusSucceeded, sc.Status)
	assert.Equal(t, "http://img/scene a", sc.ImageURL)
	assert.Equal(t, 4, api.points)
}

func TestLedgerFailureNeverCallsImageService(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name string
		api  *fakeCredits
		kind FailureKind
	}{
		{"insufficient", &fakeCredits{points: 0}, FailureCredits},
		{"unauthorized", &fakeCredits{points: 5, deductErr: storyapi.ErrAuthRequired}, FailureAuth},
		{"transport", &fakeCredits{points: 5, deductErr: &storyapi.TransportError{Op: "deduct", StatusCode: 503}}, FailureLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seeded(t, "a")
			ledger := NewLedger(tt.api, 0, nil)
			ledger.SetSession("tok")
			images := &fakeImages{}

			err := NewRenderer(store, ledger, images, nil).RenderScene(context.Background(), "a")

			var se *SceneError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.kind, se.Kind)
			assert.Zero(t, images.callCount())

			sc, _ := store.Get("a")
			assert.Equal(t, StatusFailed, sc.Status)
			assert.Equal(t, tt.kind, sc.ErrorKind)
			assert.NotEmpty(t, sc.Error)
		})
	}
}

func TestNoSessionFailsAsAuth(t *testing.T) {
	store := seeded(t, "a")
	images := &fakeImages{}
	ledger := NewLedger(&fakeCredits{points: 5}, 0, nil)

	err := NewRenderer(store, ledger, images, nil).RenderScene(context.Background(), "a")
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Zero(t, images.callCount())
	sc, _ := store.Get("a")
	assert.Equal(t, FailureAuth, sc.ErrorKind)
}

func TestRenderFailureKinds(t *testing.T) {
	store := seeded(t, "a", "b")
	ledger, _ := newLedger(5)
	images := &fakeImages{
		fail:   map[string]error{"scene a": errors.New("gpu on fire")},
		urlFor: func(string) string { return "" },
	}
	r := NewRenderer(store, ledger, images, nil)

	err := r.RenderScene(context.Background(), "a")
	var se *SceneError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, FailureRender, se.Kind)

	err = r.RenderScene(context.Background(), "b")
	assert.ErrorIs(t, err, ErrMalformedResponse, "empty url is a render failure")
	sc, _ := store.Get("b")
	assert.Equal(t, StatusFailed, sc.Status)
}

func TestRenderUnknownScene(t *testing.T) {
	ledger, api := newLedger(5)
	err := NewRenderer(seeded(t, "a"), ledger, &fakeImages{}, nil).RenderScene(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrSceneNotFound)
	assert.Zero(t, api.calls())
}

func TestRenderAllMixedOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := seeded(t, "1", "2", "3")
	ledger, api := newLedger(10)
	images := &fakeImages{fail: map[string]error{"scene 2": errors.New("timeout")}}

	err := NewRenderer(store, ledger, images, nil, WithConcurrency(2)).RenderAll(context.Background())
	require.Error(t, err)

	snap := store.Snapshot()
	assert.Equal(t, StatusSucceeded, snap[0].Status)
	assert.Equal(t, StatusFailed, snap[1].Status)
	assert.Equal(t, StatusSucceeded, snap[2].Status)
	assert.NotEmpty(t, snap[0].ImageURL)
	assert.Empty(t, snap[1].ImageURL)
	assert.NotEmpty(t, snap[2].ImageURL)
	assert.True(t, store.AllFinished())
	assert.Equal(t, 7, api.points, "every attempt was authorized")
	assert.Equal(t, []string{"1", "2", "3"}, store.IDs(), "order is unchanged")
}

func TestRenderFailedOnlyRetriesFailures(t *testing.T) {
	store := seeded(t, "1", "2")
	ledger, _ := newLedger(10)
	images := &fakeImages{fail: map[string]error{"scene 2": errors.New("timeout")}}
	r := NewRenderer(store, ledger, images, nil)

	_ = r.RenderAll(context.Background())
	assert.Equal(t, 2, images.callCount())

	delete(images.fail, "scene 2")
	require.NoError(t, r.RenderFailed(context.Background()))
	assert.Equal(t, 3, images.callCount())
	assert.True(t, store.AllFinished())
	sc, _ := store.Get("2")
	assert.Equal(t, StatusSucceeded, sc.Status)
}

// gatedImages blocks every call until its gate is released, so tests control completion order.
type gatedImages struct {
	mu    sync.Mutex
	gates []chan string
	ready chan struct{}
}

func (g *gatedImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	gate := make(chan string)
	g.mu.Lock()
	g.gates = append(g.gates, gate)
	g.mu.Unlock()
	g.ready <- struct{}{}
	select {
	case url := <-gate:
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedImages) release(i int, url string) {
	g.mu.Lock()
	gate := g.gates[i]
	g.mu.Unlock()
	gate <- url
}

func TestSupersededResultIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := seeded(t, "a")
	ledger, _ := newLedger(10)
	images := &gatedImages{ready: make(chan struct{}, 2)}
	r := NewRenderer(store, ledger, images, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() { defer wg.Done(); errs[0] = r.RenderScene(context.Background(), "a") }()
	<-images.ready
	wg.Add(1)
	go func() { defer wg.Done(); errs[1] = r.RenderScene(context.Background(), "a") }()
	<-images.ready

	// newer attempt completes first, then the older one
	images.release(1, "http://img/new")
	require.Eventually(t, func() bool {
		sc, _ := store.Get("a")
		return sc.Status == StatusSucceeded
	}, time.Second, 5*time.Millisecond)
	images.release(0, "http://img/old")
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	sc, _ := store.Get("a")
	assert.Equal(t, "http://img/new", sc.ImageURL)
	assert.Equal(t, 2, sc.Attempt)
}

func TestReseedDropsRenderFromPreviousJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := seeded(t, "a", "b")
	ledger, _ := newLedger(10)
	images := &gatedImages{ready: make(chan struct{}, 1)}
	r := NewRenderer(store, ledger, images, nil)

	done := make(chan error, 1)
	go func() { done <- r.RenderScene(context.Background(), "a") }()
	<-images.ready

	require.NoError(t, store.Seed([]Scene{
		{ID: "a", Description: "next story, panel a"},
		{ID: "b", Description: "next story, panel b"},
	}))
	images.release(0, "http://img/previous-job")
	require.NoError(t, <-done)

	sc, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sc.Status)
	assert.Empty(t, sc.ImageURL)
	assert.Equal(t, "next story, panel a", sc.Description)
	assert.False(t, store.AllFinished())
}

func TestRateLimitHonorsContext(t *testing.T) {
	store := seeded(t, "a", "b")
	ledger, _ := newLedger(10)
	images := &fakeImages{}
	r := NewRenderer(store, ledger, images, nil, WithRateLimit(0.001, 1))

	require.NoError(t, r.RenderScene(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.RenderScene(ctx, "b")
	var se *SceneError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, FailureRender, se.Kind)
	assert.Equal(t, 1, images.callCount())
}

func TestCharacterPrompt(t *testing.T) {
	store := seeded(t, "a")
	ledger, _ := newLedger(10)
	images := &fakeImages{}
	r := NewRenderer(store, ledger, images, nil)
	r.SetPrompt(CharacterPrompt("red hair, green coat"))

	require.NoError(t, r.RenderScene(context.Background(), "a"))
	assert.Equal(t, []string{"scene a\n\nCharacter reference: red hair, green coat"}, images.prompts)
	assert.Equal(t, "x", CharacterPrompt("  ")("x"))
}
