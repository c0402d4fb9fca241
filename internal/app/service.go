package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmanager/api/internal/authpw"
	"taskmanager/api/internal/config"
	"taskmanager/api/internal/email"
	"taskmanager/api/internal/events"
	"taskmanager/api/internal/metrics"
	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/search"
	"taskmanager/api/internal/secrets"
	"taskmanager/api/internal/storage"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

// Session is the authenticated caller. A zero Session is anonymous.
type Session struct {
	Token     string
	UserID    string
	Username  string
	FullName  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

// SessionStore persists hashed session ids. Implemented by
// session.RedisStore and store.PostgresStore.
type SessionStore interface {
	SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (string, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

type Mailer interface {
	IsConfigured() bool
	SendAccountCreatedEmail(to string, data email.CredentialsData) error
	SendPasswordResetEmail(to string, data email.CredentialsData) error
}

type Deps struct {
	Store    store.Store
	Sessions SessionStore
	Blobs    storage.Storage
	Box      *secrets.Box
	Mailer   Mailer
	Events   events.Publisher
	Search   *search.Service
	Logger   *zap.Logger
	// BcryptCost overrides the password hashing cost; zero keeps the default.
	BcryptCost int
}

type Service struct {
	cfg       config.Config
	store     store.Store
	sessions  SessionStore
	blobs     storage.Storage
	box       *secrets.Box
	mailer    Mailer
	events    events.Publisher
	search    *search.Service
	passwords *authpw.Service
	log       *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("app: session store is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("app: blob storage is required")
	}
	if deps.Box == nil {
		return nil, errors.New("app: field encryption box is required")
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		blobs:     deps.Blobs,
		box:       deps.Box,
		mailer:    deps.Mailer,
		events:    deps.Events,
		search:    deps.Search,
		passwords: authpw.NewService(deps.Store),
		log:       deps.Logger,
		now:       time.Now,
	}
	if deps.BcryptCost > 0 {
		s.passwords.WithCost(deps.BcryptCost)
	}
	if s.mailer == nil {
		s.mailer = email.NewService(email.Config{})
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, s.log)
	}
	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds the first administrator when BOOTSTRAP_ADMIN_PASSWORD is
// set and the account does not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	admin := s.cfg.BootstrapAdmin
	if admin.Password == "" {
		s.log.Warn("bootstrap admin password not set, skipping administrator seed")
		return nil
	}
	username := strings.TrimSpace(admin.Username)
	if username == "" {
		username = "admin"
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}

	hash, err := s.passwords.Hash(admin.Password)
	if err != nil {
		return err
	}
	emailAddr := strings.TrimSpace(admin.Email)
	if emailAddr == "" {
		emailAddr = username + "@localhost"
	}
	fullName := strings.TrimSpace(admin.FullName)
	if fullName == "" {
		fullName = "Administrator"
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Username:     username,
		Email:        emailAddr,
		FullName:     fullName,
		Role:         string(rbac.RoleAdmin),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.log.Info("bootstrap administrator created", zap.String("username", username))
	return nil
}

func (s *Service) publish(ctx context.Context, routingKey, actorID string, data any) {
	err := s.events.Publish(ctx, routingKey, events.Envelope{
		Type:       routingKey,
		OccurredAt: s.now().UTC(),
		ActorID:    actorID,
		Data:       data,
	})
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Warn("publish event failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	metrics.IncrementEventPublished(routingKey, status)
}
