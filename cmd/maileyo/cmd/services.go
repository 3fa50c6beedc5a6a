package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maileyo/maileyo/internal/auth"
	"github.com/maileyo/maileyo/internal/fileutil"
	"github.com/maileyo/maileyo/internal/gmail"
	"github.com/maileyo/maileyo/internal/mailservice"
	"github.com/maileyo/maileyo/internal/oauth"
	"github.com/maileyo/maileyo/internal/secret"
	"github.com/maileyo/maileyo/internal/session"
	"github.com/maileyo/maileyo/internal/store"
)

// openStore opens the configured database and applies the schema.
// A SQLite file holds sealed refresh tokens and is kept owner-only.
func openStore(ctx context.Context) (*store.Store, error) {
	dsn := cfg.DatabaseDSN()
	s, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if !store.IsPostgresDSN(dsn) {
		if err := fileutil.RestrictFile(dsn); err != nil {
			logger.Warn("could not restrict database file", "path", dsn, "error", err)
		}
	}
	return s, nil
}

// services bundles the wired application services.
type services struct {
	auth *auth.Service
	mail *mailservice.Service
}

func buildServices(ctx context.Context, s *store.Store) (*services, error) {
	if cfg.Auth.JWTSecret == "" || cfg.Auth.EncryptionSecret == "" {
		return nil, errors.New("auth secrets not configured; run 'maileyo gen-secrets' and add them to config.toml")
	}
	sealer, err := secret.NewSealer(cfg.Auth.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("token sealer: %w", err)
	}
	sessions, err := session.NewManager(cfg.Auth.JWTSecret, cfg.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	provider := oauth.NewManager(ctx, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURI,
		oauth.WithLogger(logger))
	authSvc := auth.NewService(provider, s, sessions, sealer, logger)

	limiter := gmail.NewRateLimiter(cfg.Gmail.RateLimitQPS)
	clients := mailservice.GmailClients(authSvc,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(limiter),
		gmail.WithConcurrency(cfg.Gmail.Concurrency),
		gmail.WithBatch(cfg.Gmail.UseBatch),
		gmail.WithMaxRetries(cfg.Gmail.MaxRetries),
	)
	return &services{auth: authSvc, mail: mailservice.New(clients, logger)}, nil
}

// lookupUser resolves a Google account id or, when ref contains "@", an
// email address to a stored user.
func lookupUser(ctx context.Context, s *store.Store, ref string) (*store.User, error) {
	get := s.GetUser
	if strings.Contains(ref, "@") {
		get = s.GetUserByEmail
	}
	u, err := get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found (see 'maileyo list-users')", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return u, nil
}

// mailUserFor loads a stored user for the mailbox commands.
func mailUserFor(ctx context.Context, s *store.Store, ref string) (mailservice.User, error) {
	u, err := lookupUser(ctx, s, ref)
	if err != nil {
		return mailservice.User{}, err
	}
	return mailservice.User{GoogleID: u.GoogleID, Email: u.Email, Name: u.Name}, nil
}
