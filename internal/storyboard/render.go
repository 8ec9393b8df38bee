package storyboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Authorizer gates each paid render.
type Authorizer interface {
	Authorize(ctx context.Context, cost int) (int, error)
	Pricing() storyapi.Pricing
}

// ImageService renders a prompt and returns the image location.
type ImageService interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// SceneError is returned by RenderScene when the scene ended up failed.
type SceneError struct {
	SceneID string
	Kind    FailureKind
	Err     error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("scene %s: %s: %v", e.SceneID, e.Kind, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }

// PromptFunc turns a scene description into the image prompt.
type PromptFunc func(description string) string

// CharacterPrompt appends a character reference to every scene prompt.
func CharacterPrompt(character string) PromptFunc {
	character = strings.TrimSpace(character)
	return func(description string) string {
		if character == "" {
			return description
		}
		return description + "\n\nCharacter reference: " + character
	}
}

type RendererOption func(*Renderer)

// WithConcurrency caps how many scenes RenderAll renders at once.
func WithConcurrency(n int) RendererOption {
	return func(r *Renderer) { r.concurrency = n }
}

// WithRateLimit paces image calls; zero rps disables pacing.
func WithRateLimit(rps float64, burst int) RendererOption {
	return func(r *Renderer) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithPrompt(fn PromptFunc) RendererOption {
	return func(r *Renderer) { r.prompt = fn }
}

// Renderer runs authorize → render → record for each scene of a Store.
type Renderer struct {
	store       *Store
	ledger      Authorizer
	images      ImageService
	limiter     *rate.Limiter
	concurrency int
	logger      *zap.Logger

	promptMu sync.RWMutex
	prompt   PromptFunc
}

func NewRenderer(store *Store, ledger Authorizer, images ImageService, logger *zap.Logger, opts ...RendererOption) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Renderer{
		store:       store,
		ledger:      ledger,
		images:      images,
		concurrency: 4,
		prompt:      CharacterPrompt(""),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPrompt swaps the prompt builder, e.g. after a character reference was analyzed.
func (r *Renderer) SetPrompt(fn PromptFunc) {
	r.promptMu.Lock()
	r.prompt = fn
	r.promptMu.Unlock()
}

func (r *Renderer) buildPrompt(description string) string {
	r.promptMu.RLock()
	defer r.promptMu.RUnlock()
	return r.prompt(description)
}

// RenderScene renders one scene. The store always ends in succeeded or failed for the
// attempt started here, unless a newer attempt superseded it. A ledger refusal never
// reaches the image service.
func (r *Renderer) RenderScene(ctx context.Context, id string) error {
	attempt, err := r.store.Begin(id)
	if err != nil {
		return err
	}
	sc, err := r.store.Get(id)
	if err != nil {
		return err
	}
	logger := r.logger.With(zap.String("scene_id", id), zap.Int("attempt", attempt))

	cost := r.ledger.Pricing().CostPerGeneration
	if cost <= 0 {
		cost = storyapi.DefaultPricing.CostPerGeneration
	}
	if _, err := r.ledger.Authorize(ctx, cost); err != nil {
		return r.fail(logger, id, attempt, classifyLedgerError(err), err)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return r.fail(logger, id, attempt, FailureRender, err)
		}
	}

	start := time.Now()
	url, err := r.images.GenerateImage(ctx, r.buildPrompt(sc.Description))
	if err != nil {
		return r.fail(logger, id, attempt, FailureRender, err)
	}
	if url == "" {
		return r.fail(logger, id, attempt, FailureRender, fmt.Errorf("%w: image service returned no url", ErrMalformedResponse))
	}

	applied, err := r.store.Complete(id, attempt, url)
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug("discarding superseded render result")
		return nil
	}
	logger.Info("scene rendered", zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

func (r *Renderer) fail(logger *zap.Logger, id string, attempt int, kind FailureKind, cause error) error {
	applied, err := r.store.Fail(id, attempt, kind, cause.Error())
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug("discarding superseded render failure", zap.Error(cause))
		return nil
	}
	logger.Warn("scene render failed", zap.String("kind", string(kind)), zap.Error(cause))
	return &SceneError{SceneID: id, Kind: kind, Err: cause}
}

// RenderAll starts one render per scene. Scenes are independent: a failure in one
// neither cancels nor reorders the others. The returned error joins every SceneError.
func (r *Renderer) RenderAll(ctx context.Context) error {
	return r.render(ctx, r.store.IDs())
}

// RenderFailed re-renders only the scenes that ended up failed.
func (r *Renderer) RenderFailed(ctx context.Context) error {
	var ids []string
	for _, sc := range r.store.Snapshot() {
		if sc.Status == StatusFailed {
			ids = append(ids, sc.ID)
		}
	}
	return r.render(ctx, ids)
}

func (r *Renderer) render(ctx context.Context, ids []string) error {
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	errs := make([]error, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = r.RenderScene(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
