package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"bims.app/cloud/internal/config"
	"bims.app/cloud/internal/logger"
	"bims.app/cloud/internal/mercadopago"
	"bims.app/cloud/internal/ratelimit"
	"bims.app/cloud/license"
	"bims.app/cloud/storage"
)

type Server struct {
	Router    chi.Router
	Config    *config.Config
	Storage   storage.Storage
	Identity  storage.Identity
	Processor mercadopago.API
	Activator *license.Activator
	Version   string

	received  atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
}

func NewHTTPServer(cfg *config.Config, store storage.Storage, identity storage.Identity, processor mercadopago.API, activator *license.Activator) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Config:    cfg,
		Storage:   store,
		Identity:  identity,
		Processor: processor,
		Activator: activator,
		Version:   "dev",
	}

	limiter := ratelimit.New(30, 10*time.Minute)

	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	s.Router.Get("/health", s.Health)
	s.Router.Post("/api/v1/checkout", s.withRateLimit(limiter, s.CreateCheckout))
	s.Router.Post("/api/v1/subscriptions", s.withRateLimit(limiter, s.CreateSubscription))
	s.Router.Post("/api/v1/webhooks/mercadopago", s.Webhook)
	s.Router.Post("/api/v1/licenses/validate", s.ValidateLicense)

	return s
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Webhooks  struct {
		Received  int64 `json:"received"`
		Processed int64 `json:"processed"`
		Skipped   int64 `json:"skipped"`
	} `json:"webhooks"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Version:   s.Version,
		Timestamp: time.Now(),
	}
	response.Webhooks.Received = s.received.Load()
	response.Webhooks.Processed = s.processed.Load()
	response.Webhooks.Skipped = s.skipped.Load()

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) withRateLimit(limiter ratelimit.RateLimit, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(remoteAddr(r)) {
			logger.Warn("Rate limit exceeded", map[string]interface{}{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
			})
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next(w, r)
	}
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
