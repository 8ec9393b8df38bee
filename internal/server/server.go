package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nerdneilsfield/storyboarder/internal/auth"
	"github.com/nerdneilsfield/storyboarder/internal/payment"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
)

// LedgerStore is the server-side points ledger.
type LedgerStore interface {
	GetOrCreate(ctx context.Context, id, email string) (*storage.Account, error)
	Get(ctx context.Context, id string) (*storage.Account, error)
	Deduct(ctx context.Context, id string, amount int) (int, error)
	AddPoints(ctx context.Context, id string, amount int) (int, error)
}

// Payments opens checkout sessions and verifies webhook deliveries.
type Payments interface {
	CreateCheckout(ctx context.Context, userID, email string) (string, error)
	ParseWebhook(payload []byte, signature string) (*payment.Completion, error)
}

// Storyteller turns a story into the model's raw JSON answer.
type Storyteller interface {
	Breakdown(ctx context.Context, story string) ([]byte, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type Captioner interface {
	Caption(ctx context.Context, imageURL string) (string, error)
}

type Deps struct {
	Ledger      LedgerStore
	Payments    Payments
	Tokens      *auth.Issuer
	Storyteller Storyteller
	Images      ImageGenerator
	Captioner   Captioner
	Static      http.Handler
	Pricing     storyapi.Pricing
	Logger      *zap.Logger
}

type Server struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pricing == (storyapi.Pricing{}) {
		deps.Pricing = storyapi.DefaultPricing
	}
	return &Server{deps: deps, logger: deps.Logger.Named("server")}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(s.logger),
	)

	r.Get("/healthz", s.health)
	if s.deps.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", s.deps.Static))
	}
	r.Post("/webhook/stripe", s.stripeWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(s.deps.Tokens))

		r.Get("/user/profile", s.profile)
		r.Post("/generate", s.deduct)
		r.Post("/create-checkout-session", s.checkout)

		r.Post("/breakdown-story", s.breakdownStory)
		r.Post("/generate-image", s.generateImage)
		r.Post("/analyze-character", s.analyzeCharacter)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
