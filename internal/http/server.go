// Package http exposes the FinVue JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"finvue/internal/advisor"
	"finvue/internal/auth"
	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/market"
	"finvue/internal/middleware/ratelimit"
	"finvue/internal/middleware/security"
	"finvue/internal/middleware/trace"
	"finvue/internal/session"
	"finvue/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Advisor produces the generated commentary shown next to the record.
type Advisor interface {
	Advice(ctx context.Context, userID string, r core.Record, agg core.Aggregates, month int) advisor.Reply
	MarketOutlook(ctx context.Context, userID string, headlines []string) *advisor.Outlook
	Chat(ctx context.Context, userID, message string, r core.Record, history []advisor.Message) advisor.Reply
	WealthVision(ctx context.Context, userID string, o advisor.Outlook) (storage.Asset, error)
	Assets(ctx context.Context, userID string) ([]storage.Asset, error)
}

// MarketData supplies headlines and the exchange rate.
type MarketData interface {
	News(ctx context.Context) market.News
	Snapshot(ctx context.Context) market.Snapshot
}

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the API.
type Dependencies struct {
	Auth     *auth.Service
	Sessions *session.Registry
	Advisor  Advisor
	Market   MarketData
	Store    Pinger
	Limiter  *ratelimit.Limiter
	Logger   *log.Logger
}

type Server struct {
	http.Server
	deps     Dependencies
	logger   *log.Logger
	detector *security.Detector
	tracer   *trace.Middleware
	started  time.Time
	now      func() time.Time
}

// NewServer wires the router. A nil Limiter gets the default configuration.
func NewServer(addr string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = log.FromContext(context.Background())
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector(deps.Logger)
	s := &Server{
		deps:     deps,
		logger:   logger,
		detector: detector,
		tracer:   trace.NewMiddleware(deps.Logger, detector.ExtractClientIP),
		started:  time.Now(),
		now:      time.Now,
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Chat with extended thinking can take well over a minute.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(middleware.CleanPath)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Recurso não encontrado.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Método não permitido.")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.deps.Limiter.Middleware(s.clientKey, s.onRateLimited))
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Get("/auth/confirm", s.handleConfirm)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.deps.Limiter.Middleware(s.userKey, s.onRateLimited))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/profile", s.handleGetProfile)
			r.Put("/profile", s.handleUpdateProfile)
			r.Put("/profile/password", s.handleChangePassword)

			r.Get("/record", s.handleGetRecord)
			r.Put("/record/{category}/{field}/{month}", s.handleSetMonthValue)
			r.Get("/summary", s.handleSummary)
			r.Get("/periods", s.handlePeriods)
			r.Get("/save-status", s.handleSaveStatus)
			r.Post("/save/retry", s.handleRetrySave)

			r.Route("/insights", func(r chi.Router) {
				r.Use(log.ComponentMiddleware(log.ComponentAdvisor))
				r.Post("/advice", s.handleAdvice)
				r.Post("/outlook", s.handleOutlook)
				r.Post("/chat", s.handleChat)
				r.Post("/vision", s.handleVision)
			})
			r.Get("/assets", s.handleAssets)
			r.Get("/market", s.handleMarket)
		})
	})

	return r
}

func (s *Server) clientKey(r *http.Request) string {
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) userKey(r *http.Request) string {
	if claims, ok := claimsFromContext(r.Context()); ok {
		return "user:" + claims.Subject
	}
	return s.clientKey(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded", log.FieldPath, r.URL.Path)
	writeError(w, r, http.StatusTooManyRequests, "Muitas requisições. Tente novamente em instantes.")
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"sessions":  s.deps.Sessions.Len(),
		"requests":  s.tracer.GetMetrics(),
		"rateLimit": s.deps.Limiter.GetMetrics(),
		"security":  s.detector.GetMetrics(),
	})
}

// handleReady verifies the storage backend answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"storage": "ok"}
	status, code := "ready", http.StatusOK
	if s.deps.Store == nil {
		checks["storage"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.deps.Store.Ping(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// currentMonth is the zero-based index of the running month.
func (s *Server) currentMonth() int {
	return int(s.now().Month()) - 1
}
