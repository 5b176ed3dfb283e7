package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"perepiska/internal/content"
	"perepiska/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	loginFailedMessage = "Login failed"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Username    string `json:"username,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

// AuthService verifies username/password pairs and hands out opaque
// session tokens. Credentials live in the store; a locked in-memory map
// mirrors them so the login path never touches disk.
type AuthService struct {
	Config
	store      Store
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	creds, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	for i := range creds {
		c := creds[i]
		tx.Set(c.Username, &c)
	}

	return as, nil
}

// AddUser creates a user with the given password. The username is the
// identity other users address messages to, so it is validated here.
func (as *AuthService) AddUser(username, password string) (UserCredentials, error) {
	if err := content.ValidateUsername(username); err != nil {
		return UserCredentials{}, err
	}
	if password == "" {
		return UserCredentials{}, errors.New("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return UserCredentials{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return UserCredentials{}, models.ErrUserExists
	}

	creds := &UserCredentials{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    as.now().Unix(),
	}

	if err := as.store.UpsertCredentials(*creds); err != nil {
		return UserCredentials{}, fmt.Errorf("failed to persist credentials: %w", err)
	}
	tx.Set(username, creds)

	return UserCredentials{
		ID:       creds.ID,
		Username: username,
	}, nil
}

func (as *AuthService) DeleteUser(username string) error {
	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err != nil {
		return models.ErrNotFound
	}

	if err := as.store.DeleteCredentials(username); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	// Live tokens for the user stay in the TTL cache but Authenticate
	// rejects them once the user record is gone.
	return tx.Del(username)
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}
	}

	// Quadratic backoff after repeated failures.
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "username", user.Username, "error", err)
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}
	}

	as.liveTokens.Set(token, user.Username)
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Username:    user.Username,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// Authenticate resolves a session token to its username. Tokens of
// deleted users are rejected even before they expire.
func (as *AuthService) Authenticate(token string) (string, error) {
	username, err := as.liveTokens.Get(token)
	if err != nil {
		return "", err
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err != nil {
		return "", models.ErrNotFound
	}
	return username, nil
}

// Usernames returns all known usernames, sorted. Feeds the directory
// endpoint.
func (as *AuthService) Usernames() ([]string, error) {
	creds, err := as.store.ListCredentials()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(creds))
	for _, c := range creds {
		names = append(names, c.Username)
	}
	sort.Strings(names)
	return names, nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
