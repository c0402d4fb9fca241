package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"taskmanager/api/internal/authpw"
	"taskmanager/api/internal/email"
	"taskmanager/api/internal/events"
	"taskmanager/api/internal/metrics"
	"taskmanager/api/internal/rbac"
	"taskmanager/api/internal/storage"
	"taskmanager/api/internal/store"
	"taskmanager/api/internal/util"
)

const maxUsernameSuffix = 99

type ProvisionInput struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// ProvisionResult carries the generated password only when it could not be
// delivered by e-mail.
type ProvisionResult struct {
	User              store.User
	GeneratedPassword string
	Delivered         bool
}

type UserPatch struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

type ProfileInput struct {
	FullName        *string
	Email           *string
	Username        *string
	CurrentPassword string
	NewPassword     string
}

type RoleAvailability struct {
	Value        rbac.Role `json:"value"`
	Label        string    `json:"label"`
	Available    bool      `json:"available"`
	CurrentCount int       `json:"currentCount"`
	MaxCount     *int      `json:"maxCount,omitempty"`
}

func normalizeEmail(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", validationError("Email is required", "email")
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", validationError("Email is invalid", "email")
	}
	return value, nil
}

func checkQuota(ctx context.Context, tx store.Store, role rbac.Role) error {
	max, limited := rbac.Quota(role)
	if !limited {
		return nil
	}
	counts, err := tx.CountUsersByRole(ctx)
	if err != nil {
		return err
	}
	current := counts[string(role)]
	if current >= max {
		return badRequest("QUOTA_EXCEEDED",
			fmt.Sprintf("%s limit reached (%d)", rbac.Label(role), max),
			map[string]any{"role": role, "max": max, "current": current})
	}
	return nil
}

func uniqueUsername(ctx context.Context, tx store.Store, candidate string) (string, error) {
	for i := 1; i <= maxUsernameSuffix; i++ {
		name := candidate
		if i > 1 {
			name = fmt.Sprintf("%s%d", candidate, i)
		}
		_, err := tx.GetUserByUsername(ctx, name)
		if errors.Is(err, sql.ErrNoRows) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", conflict("CONFLICT", "Could not derive a free username from the email address", nil)
}

func ensureFreeUsername(ctx context.Context, tx store.Store, username, selfID string) error {
	existing, err := tx.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return conflict("CONFLICT", "Username already taken", map[string]string{"field": "username"})
	}
	return nil
}

func ensureFreeEmail(ctx context.Context, tx store.Store, emailAddr, selfID string) error {
	existing, err := tx.GetUserByEmail(ctx, emailAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return conflict("CONFLICT", "Email already registered", map[string]string{"field": "email"})
	}
	return nil
}

func mapUserConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return conflict("CONFLICT", "Username or email already in use", nil)
	}
	return err
}

// ProvisionUser creates an account with a generated password. Quota checks
// and the insert share one transaction holding the quota lock.
func (s *Service) ProvisionUser(ctx context.Context, sess Session, in ProvisionInput) (ProvisionResult, error) {
	if err := RequireAdministrator(sess); err != nil {
		return ProvisionResult{}, err
	}
	emailAddr, err := normalizeEmail(in.Email)
	if err != nil {
		return ProvisionResult{}, err
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return ProvisionResult{}, validationError("Full name is required", "fullName")
	}
	role, ok := rbac.Parse(in.Role)
	if !ok {
		return ProvisionResult{}, validationError("Unknown role", "role")
	}

	password, err := authpw.GeneratePassword(authpw.GeneratedPasswordLength)
	if err != nil {
		return ProvisionResult{}, err
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return ProvisionResult{}, err
	}

	var user store.User
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockUserQuotas(ctx); err != nil {
			return err
		}
		if err := checkQuota(ctx, tx, role); err != nil {
			return err
		}
		if err := ensureFreeEmail(ctx, tx, emailAddr, ""); err != nil {
			return err
		}
		username, err := uniqueUsername(ctx, tx, authpw.UsernameCandidate(emailAddr))
		if err != nil {
			return err
		}
		now := s.now()
		user = store.User{
			ID:           util.NewID("usr"),
			Username:     username,
			Email:        emailAddr,
			FullName:     fullName,
			Role:         string(role),
			PasswordHash: hash,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		return ProvisionResult{}, mapUserConflict(err)
	}

	metrics.IncrementProvisioned(string(role))
	s.log.Info("user provisioned", zap.String("user_id", user.ID), zap.String("role", string(role)), zap.String("actor_id", sess.UserID))
	s.publish(ctx, events.UserProvisioned, sess.UserID, map[string]string{"id": user.ID, "role": string(role)})

	result := ProvisionResult{User: user}
	result.Delivered = s.deliverCredentials(user, password, s.mailer.SendAccountCreatedEmail)
	if !result.Delivered {
		result.GeneratedPassword = password
	}
	return result, nil
}

func (s *Service) deliverCredentials(user store.User, password string, send func(string, email.CredentialsData) error) bool {
	if !s.mailer.IsConfigured() {
		return false
	}
	err := send(user.Email, email.CredentialsData{
		FullName: user.FullName,
		Username: user.Username,
		Password: password,
		Role:     rbac.Label(rbac.Normalize(user.Role)),
	})
	if err != nil {
		s.log.Warn("credential email failed", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}
	return true
}

// ResetUserPassword replaces a user's password with a generated one.
func (s *Service) ResetUserPassword(ctx context.Context, sess Session, userID string) (ProvisionResult, error) {
	if err := RequireAdministrator(sess); err != nil {
		return ProvisionResult{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProvisionResult{}, notFound("User not found")
		}
		return ProvisionResult{}, err
	}
	password, err := authpw.GeneratePassword(authpw.GeneratedPasswordLength)
	if err != nil {
		return ProvisionResult{}, err
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return ProvisionResult{}, err
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return ProvisionResult{}, err
	}

	result := ProvisionResult{User: user}
	result.Delivered = s.deliverCredentials(user, password, s.mailer.SendPasswordResetEmail)
	if !result.Delivered {
		result.GeneratedPassword = password
	}
	return result, nil
}

// ListAvailableRoles reports every role with its current head count and
// whether another account may still be created with it.
func (s *Service) ListAvailableRoles(ctx context.Context, sess Session) ([]RoleAvailability, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	counts, err := s.store.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	roles := make([]RoleAvailability, 0, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		item := RoleAvailability{
			Value:        role,
			Label:        rbac.Label(role),
			Available:    true,
			CurrentCount: counts[string(role)],
		}
		if max, limited := rbac.Quota(role); limited {
			m := max
			item.MaxCount = &m
			item.Available = item.CurrentCount < max
		}
		roles = append(roles, item)
	}
	return roles, nil
}

func (s *Service) ListUsers(ctx context.Context, sess Session) ([]store.User, error) {
	if err := RequireAdministrator(sess); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// UpdateUser applies an administrator edit. Role changes are quota checked
// under the same lock as provisioning.
func (s *Service) UpdateUser(ctx context.Context, sess Session, userID string, patch UserPatch) (store.User, error) {
	if err := RequireAdministrator(sess); err != nil {
		return store.User{}, err
	}

	var user store.User
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		user, err = tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("User not found")
			}
			return err
		}
		self := user.ID == sess.UserID

		if patch.Role != nil {
			role, ok := rbac.Parse(*patch.Role)
			if !ok {
				return validationError("Unknown role", "role")
			}
			if string(role) != user.Role {
				if self {
					return validationError("You cannot change your own role", "role")
				}
				if err := tx.LockUserQuotas(ctx); err != nil {
					return err
				}
				if err := checkQuota(ctx, tx, role); err != nil {
					return err
				}
				user.Role = string(role)
			}
		}
		if patch.IsActive != nil {
			if self && !*patch.IsActive {
				return validationError("You cannot deactivate your own account", "isActive")
			}
			user.IsActive = *patch.IsActive
		}
		if patch.FullName != nil {
			name := strings.TrimSpace(*patch.FullName)
			if name == "" {
				return validationError("Full name is required", "fullName")
			}
			user.FullName = name
		}
		if patch.Username != nil {
			username := strings.TrimSpace(*patch.Username)
			if username == "" {
				return validationError("Username is required", "username")
			}
			if err := ensureFreeUsername(ctx, tx, username, user.ID); err != nil {
				return err
			}
			user.Username = username
		}
		if patch.Email != nil {
			emailAddr, err := normalizeEmail(*patch.Email)
			if err != nil {
				return err
			}
			if err := ensureFreeEmail(ctx, tx, emailAddr, user.ID); err != nil {
				return err
			}
			user.Email = emailAddr
		}
		user.UpdatedAt = s.now()
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return store.User{}, mapUserConflict(err)
	}
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, sess Session, userID string) error {
	if err := RequireAdministrator(sess); err != nil {
		return err
	}
	if userID == sess.UserID {
		return validationError("You cannot delete your own account", "id")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("User not found")
		}
		return err
	}
	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return conflict("CONFLICT", "User still owns tasks, projects or messages", nil)
		}
		return err
	}
	if user.AvatarPath != "" {
		if err := s.blobs.Remove(ctx, user.AvatarPath); err != nil {
			s.log.Warn("remove avatar of deleted user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

// UpdateProfile edits the caller's own account. A new avatar is written
// before the row is updated and the previous one is removed afterwards.
func (s *Service) UpdateProfile(ctx context.Context, sess Session, in ProfileInput, avatar *Upload) (store.User, error) {
	if err := requireSession(sess); err != nil {
		return store.User{}, err
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return store.User{}, err
	}
	newHash, err := s.applyProfile(ctx, &user, in)
	if err != nil {
		return store.User{}, mapUserConflict(err)
	}

	var newAvatar, oldAvatar string
	if avatar != nil && strings.TrimSpace(avatar.Filename) != "" && avatar.Reader != nil {
		newAvatar = "avatars/" + storage.UniqueName(avatar.Filename)
		if err := s.blobs.Put(ctx, newAvatar, avatar.Reader, avatar.Size, avatar.ContentType); err != nil {
			return store.User{}, err
		}
		oldAvatar = user.AvatarPath
		user.AvatarPath = newAvatar
	}

	user.UpdatedAt = s.now()
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		if newHash != "" {
			return tx.UpdateUserPassword(ctx, user.ID, newHash)
		}
		return nil
	})
	if err != nil {
		if newAvatar != "" {
			if rmErr := s.blobs.Remove(ctx, newAvatar); rmErr != nil {
				s.log.Warn("remove orphaned avatar", zap.String("path", newAvatar), zap.Error(rmErr))
			}
		}
		return store.User{}, mapUserConflict(err)
	}
	if oldAvatar != "" {
		if err := s.blobs.Remove(ctx, oldAvatar); err != nil {
			s.log.Warn("remove previous avatar", zap.String("path", oldAvatar), zap.Error(err))
		}
	}
	return user, nil
}

// applyProfile validates in against the stored user and copies the
// accepted fields onto it. It returns the new password hash, if any.
func (s *Service) applyProfile(ctx context.Context, user *store.User, in ProfileInput) (string, error) {
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return "", validationError("Full name is required", "fullName")
		}
		user.FullName = name
	}
	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if username == "" {
			return "", validationError("Username is required", "username")
		}
		if err := ensureFreeUsername(ctx, s.store, username, user.ID); err != nil {
			return "", err
		}
		user.Username = username
	}
	if in.Email != nil {
		emailAddr, err := normalizeEmail(*in.Email)
		if err != nil {
			return "", err
		}
		if err := ensureFreeEmail(ctx, s.store, emailAddr, user.ID); err != nil {
			return "", err
		}
		user.Email = emailAddr
	}
	if in.NewPassword == "" {
		return "", nil
	}
	if !authpw.CheckPassword(user.PasswordHash, in.CurrentPassword) {
		return "", badRequest("INVALID_CURRENT_PASSWORD", "Current password is incorrect", nil)
	}
	if len(in.NewPassword) < authpw.MinPasswordLength {
		return "", validationError(authpw.ErrWeakPassword.Error(), "newPassword")
	}
	return s.passwords.Hash(in.NewPassword)
}

// AvatarURLPath is the download route for a user's avatar, or "".
func AvatarURLPath(user store.User) string {
	if user.AvatarPath == "" {
		return ""
	}
	return "/api/users/" + user.ID + "/avatar"
}

// OpenAvatar streams a user's avatar bytes.
func (s *Service) OpenAvatar(ctx context.Context, sess Session, userID string) (store.User, io.ReadCloser, error) {
	if err := requireSession(sess); err != nil {
		return store.User{}, nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, nil, err
	}
	if user.AvatarPath == "" {
		return store.User{}, nil, notFound("Avatar not found")
	}
	rc, err := s.blobs.Open(ctx, user.AvatarPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return store.User{}, nil, domainError(http.StatusNotFound, "FILE_CONTENT_MISSING", "Avatar content is missing", nil)
		}
		return store.User{}, nil, err
	}
	return user, rc, nil
}
