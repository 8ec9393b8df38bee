package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/nerdneilsfield/storyboarder/internal/payment"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
)

// account loads the caller's ledger account, registering it on first sight.
func (s *Server) account(w http.ResponseWriter, r *http.Request) (*storage.Account, bool) {
	claims := claimsFrom(r.Context())
	if claims == nil || claims.Subject == "" {
		writeError(w, http.StatusUnauthorized, "token has no subject", "")
		return nil, false
	}

	acct, err := s.deps.Ledger.Get(r.Context(), claims.Subject)
	if err == nil {
		return acct, true
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		s.logger.Error("failed to load account", zap.String("user_id", claims.Subject), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load account", "")
		return nil, false
	}
	if claims.Email == "" {
		writeError(w, http.StatusBadRequest, "token has no email, cannot register account", "")
		return nil, false
	}
	acct, err = s.deps.Ledger.GetOrCreate(r.Context(), claims.Subject, claims.Email)
	if err != nil {
		s.logger.Error("failed to register account", zap.String("user_id", claims.Subject), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register account", "")
		return nil, false
	}
	return acct, true
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, storyapi.Profile{
		User:   storyapi.User{ID: acct.ID, Email: acct.Email, Points: acct.Points},
		Config: s.deps.Pricing,
	})
}

func (s *Server) deduct(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}
	var req storyapi.DeductRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Amount == 0 {
		req.Amount = s.deps.Pricing.CostPerGeneration
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", "")
		return
	}

	remaining, err := s.deps.Ledger.Deduct(r.Context(), acct.ID, req.Amount)
	if errors.Is(err, storage.ErrInsufficientPoints) {
		writeError(w, http.StatusPaymentRequired, "insufficient points", "")
		return
	}
	if err != nil {
		s.logger.Error("deduction failed", zap.String("user_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "deduction failed", "")
		return
	}
	writeJSON(w, http.StatusOK, storyapi.DeductResponse{Message: "points deducted", RemainingPoints: &remaining})
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}
	if s.deps.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, payment.ErrNotConfigured.Error(), "")
		return
	}
	url, err := s.deps.Payments.CreateCheckout(r.Context(), acct.ID, acct.Email)
	if errors.Is(err, payment.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "")
		return
	}
	if err != nil {
		s.logger.Error("checkout failed", zap.String("user_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusForbidden, "failed to create checkout session", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, storyapi.CheckoutResponse{URL: url})
}

// stripeWebhook credits a purchase to an existing account. Unknown accounts are logged and acknowledged.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Payments == nil {
		http.Error(w, "payments disabled", http.StatusServiceUnavailable)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	done, err := s.deps.Payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		http.Error(w, "webhook signature verification failed", http.StatusBadRequest)
		return
	}
	if done == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := s.deps.Ledger.Get(r.Context(), done.UserID); err != nil {
		s.logger.Warn("payment for unknown account", zap.String("user_id", done.UserID), zap.String("session_id", done.SessionID), zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	total, err := s.deps.Ledger.AddPoints(r.Context(), done.UserID, s.deps.Pricing.PointsPerPurchase)
	if err != nil {
		s.logger.Error("failed to credit purchase", zap.String("user_id", done.UserID), zap.Error(err))
		http.Error(w, "failed to credit points", http.StatusInternalServerError)
		return
	}
	s.logger.Info("purchase credited", zap.String("user_id", done.UserID), zap.String("session_id", done.SessionID), zap.Int("points", total))
	w.WriteHeader(http.StatusOK)
}
