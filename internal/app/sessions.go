package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"taskmanager/api/internal/auth"
	"taskmanager/api/internal/authpw"
	"taskmanager/api/internal/metrics"
	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/session"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

// Login verifies credentials and issues a session. Disabled accounts never
// receive a session.
func (s *Service) Login(ctx context.Context, username, password string, remember bool) (Session, store.User, error) {
	user, err := s.passwords.SignIn(ctx, username, password)
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		metrics.IncrementLogin("invalid")
		return Session{}, store.User{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	case errors.Is(err, authpw.ErrAccountDisabled):
		metrics.IncrementLogin("disabled")
		return Session{}, store.User{}, domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", nil)
	case err != nil:
		return Session{}, store.User{}, err
	}

	now := s.now()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return Session{}, store.User{}, err
	}
	user.LastLogin = &now
	if err := s.store.SetOnlineStatus(ctx, user.ID, true, now); err != nil {
		s.log.Warn("mark user online", zap.String("user_id", user.ID), zap.Error(err))
	}

	ttl := s.cfg.SessionTTL
	if remember && s.cfg.RememberTTL > 0 {
		ttl = s.cfg.RememberTTL
	}
	sess, err := s.issueSession(ctx, user, now.Add(ttl))
	if err != nil {
		return Session{}, store.User{}, err
	}
	metrics.IncrementLogin("success")
	return sess, user, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User, expiresAt time.Time) (Session, error) {
	jti := util.NewID("ses")
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), user.ID, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveSession(ctx, auth.HashToken(jti), user.ID, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		FullName:  user.FullName,
		Role:      rbac.Normalize(user.Role),
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken resolves a bearer or cookie token. Role and active flag
// come from the users table, not the token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := s.sessions.LookupSession(ctx, auth.HashToken(claims.ID))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if userID != claims.Subject {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		FullName:  user.FullName,
		Role:      rbac.Normalize(user.Role),
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if sess.JTI != "" {
		if err := s.sessions.RevokeSession(ctx, auth.HashToken(sess.JTI)); err != nil {
			return err
		}
	}
	if err := s.store.SetOnlineStatus(ctx, sess.UserID, false, s.now()); err != nil {
		s.log.Warn("mark user offline", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	return nil
}

func (s *Service) Me(ctx context.Context, sess Session) (store.User, error) {
	if err := requireSession(sess); err != nil {
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, sess.UserID)
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, currentPassword, newPassword string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	err := s.passwords.ChangePassword(ctx, sess.UserID, currentPassword, newPassword)
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return badRequest("INVALID_CURRENT_PASSWORD", "Current password is incorrect", nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError(err.Error(), "newPassword")
	}
	return err
}
