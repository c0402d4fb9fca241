// Package authpw provides username/password authentication and the
// password primitives used by account provisioning.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"taskmanager/api/internal/store"
)

const (
	// GeneratedPasswordLength is the length of provisioned passwords.
	GeneratedPasswordLength = 12
	MinPasswordLength       = 6
)

const (
	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
	symbols = "!@#$%^&*"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// Service authenticates users against bcrypt hashes
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// SignIn authenticates a user by username and password. Inactive accounts
// fail with ErrAccountDisabled only after the password has been verified.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Burn a compare so unknown usernames cost the same as bad passwords.
			_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrAccountDisabled
	}
	return user, nil
}

// ChangePassword re-verifies the current password before storing the new one.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := s.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Hash returns a bcrypt hash of password using the service cost.
func (s *Service) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func (s *Service) dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	})
	return dummy
}

func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GeneratePassword draws length characters from letters, digits and
// symbols using crypto/rand. Lengths of 3 or more are resampled until every
// class is present.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = GeneratedPasswordLength
	}
	alphabet := letters + digits + symbols
	out := make([]byte, length)
	for {
		for i := range out {
			c, err := randomChar(alphabet)
			if err != nil {
				return "", err
			}
			out[i] = c
		}
		if length < 3 || hasAllClasses(string(out)) {
			return string(out), nil
		}
	}
}

func hasAllClasses(value string) bool {
	return strings.ContainsAny(value, letters) && strings.ContainsAny(value, digits) && strings.ContainsAny(value, symbols)
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return alphabet[n.Int64()], nil
}

var usernameUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// UsernameCandidate derives a base username from the local part of an email.
func UsernameCandidate(email string) string {
	local := strings.ToLower(strings.TrimSpace(email))
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	local = usernameUnsafe.ReplaceAllString(local, "")
	local = strings.Trim(local, "._-")
	if local == "" {
		return "user"
	}
	if len(local) > 40 {
		local = local[:40]
	}
	return local
}
