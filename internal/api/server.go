package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"veebee/internal/config"
	"veebee/internal/premium"
	"veebee/internal/storage"
)

// Actor ids recorded on grants driven by the HTTP API.
const (
	actorSubscribe = "API_SUBSCRIPTION"
	actorCancel    = "API_SUBSCRIPTION_CANCEL"
)

// Server exposes the premium subscription surface over HTTP. Every route
// requires a Discord bearer token.
type Server struct {
	cfg      config.APIConfig
	logger   *zap.Logger
	store    *storage.Store
	manager  *premium.Manager
	verifier Verifier
	http     *http.Server
}

func NewServer(cfg config.APIConfig, logger *zap.Logger, store *storage.Store, manager *premium.Manager, verifier Verifier) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		verifier: verifier,
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api/premium", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/subscribe", s.handleSubscribe)
		r.Get("/status/{userID}", s.handleStatus)
		r.Delete("/cancel/{userID}", s.handleCancel)
	})
	return r
}

func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": "No authorization token provided",
			})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		if _, err := s.verifier.Verify(r.Context(), token); err != nil {
			status := http.StatusUnauthorized
			message := "Invalid Discord token"
			if !errors.Is(err, ErrInvalidToken) {
				status = http.StatusInternalServerError
				message = "Failed to verify Discord token"
				s.logger.Warn("token verification failed", zap.Error(err))
			}
			s.writeJSON(w, status, map[string]any{"success": false, "message": message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type subscribeRequest struct {
	UserID       string  `json:"userId"`
	DurationDays int     `json:"durationDays"`
	PaymentID    string  `json:"paymentId"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PaymentID == "" || req.DurationDays <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "userId, paymentId and durationDays are required",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(req.DurationDays) * 24 * time.Hour)
	err := s.store.InsertSubscription(r.Context(), storage.Subscription{
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		StartedAt: now,
		ExpiresAt: expiresAt,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		s.logger.Error("subscription insert failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to activate premium subscription",
		})
		return
	}

	if err := s.manager.AddUser(r.Context(), req.UserID, req.DurationDays, actorSubscribe); err != nil {
		s.logger.Error("subscription grant failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to activate premium subscription",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Premium subscription activated",
		"expiresAt": expiresAt.Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	grant, err := s.store.GetPremiumUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("status lookup failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to check premium status",
		})
		return
	}

	isPremium, err := s.manager.IsPremiumUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("status resolve failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to check premium status",
		})
		return
	}

	body := map[string]any{"success": true, "isPremium": isPremium}
	if grant != nil && grant.ExpiresAt != nil {
		body["expiresAt"] = grant.ExpiresAt.Unix()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if _, err := s.store.ExpireSubscriptions(r.Context(), userID, time.Now()); err != nil {
		s.logger.Error("subscription expire failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to cancel premium subscription",
		})
		return
	}
	if err := s.manager.RemoveUser(r.Context(), userID, actorCancel); err != nil {
		s.logger.Error("subscription revoke failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to cancel premium subscription",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Premium subscription cancelled",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response encode failed", zap.Error(err))
	}
}
