// Package api provides the HTTP API server for maileyo.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/maileyo/maileyo/internal/auth"
	"github.com/maileyo/maileyo/internal/compose"
	"github.com/maileyo/maileyo/internal/config"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailbox"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/scheduler"
	"github.com/maileyo/maileyo/internal/session"
	"github.com/maileyo/maileyo/internal/store"
)

// AuthService defines the sign-in operations the API needs.
type AuthService interface {
	BeginLogin() (redirectURL, state string, err error)
	CompleteLogin(ctx context.Context, code, state, cookieState string) (*auth.Login, error)
	Authenticate(ctx context.Context, token string) (*store.User, *session.Claims, error)
	Logout(ctx context.Context, token string) error
	SessionTTL() time.Duration
}

// MailService defines the mailbox operations the API needs.
type MailService interface {
	FetchEmails(ctx context.Context, u mailservice.User, req mailservice.FetchRequest) (*mailservice.FetchResponse, error)
	FetchByContact(ctx context.Context, u mailservice.User, req mailservice.ContactRequest) (*mailservice.ConversationResponse, error)
	Contacts(ctx context.Context, u mailservice.User, req mailservice.ContactsRequest) (*mailbox.Page[mailbox.Contact], error)
	Send(ctx context.Context, u mailservice.User, req *compose.SendRequest) (*mailservice.SendResponse, error)
	Attachment(ctx context.Context, u mailservice.User, messageID, attachmentID string) (*gmail.Attachment, error)
}

// Maintenance defines the scheduler operations the API needs.
type Maintenance interface {
	IsScheduled(name string) bool
	Trigger(name string) error
	Status() []JobStatus
	IsRunning() bool
}

// JobStatus is an alias for scheduler.JobStatus.
type JobStatus = scheduler.JobStatus

// StatsStore reports database statistics.
type StatsStore interface {
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	auth        AuthService
	mail        MailService
	maint       Maintenance
	stats       StatsStore
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithMaintenance enables the /admin/maintenance routes. They are mounted
// only when an admin API key is configured as well.
func WithMaintenance(m Maintenance) Option {
	return func(s *Server) { s.maint = m }
}

// WithStats adds database statistics to the maintenance status.
func WithStats(st StatsStore) Option {
	return func(s *Server) { s.stats = st }
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, authSvc AuthService, mail MailService, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		auth:   authSvc,
		mail:   mail,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	if s.cfg.Server.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		MaxAge:         86400,
	}))

	rps, burst := s.cfg.Server.RateLimitRPS, s.cfg.Server.RateBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	// Sign-in flow
	r.Get("/login/google", s.handleLogin)
	r.Get("/auth/google/callback", s.handleCallback)
	r.Post("/auth/logout", s.handleLogout)
	r.With(s.sessionMiddleware).Get("/auth/google/user", s.handleUser)

	r.Route("/emails", func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Get("/fetch", s.handleFetchEmails)
		r.Post("/fetch-by-contact", s.handleFetchByContact)
		r.Get("/contacts", s.handleContacts)
		r.Post("/send", s.handleSend)
		r.Get("/attachments/{messageID}/{attachmentID}", s.handleAttachment)
		r.Get("/{messageID}/attachments/{attachmentID}", s.handleAttachment)
	})

	if s.maint != nil && s.cfg.Server.AdminAPIKey != "" {
		r.Route("/admin/maintenance", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/", s.handleMaintenanceStatus)
			r.Post("/{job}", s.handleTriggerJob)
		})
	}

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
