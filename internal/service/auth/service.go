package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
	"github.com/mauroas7/Tardia-Plataforma/pkg/config"
	"github.com/mauroas7/Tardia-Plataforma/pkg/crypto"
	jwtpkg "github.com/mauroas7/Tardia-Plataforma/pkg/jwt"
)

const minPasswordLen = 8

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword indicates the password is too short.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.PlatformConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.PlatformConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return nil, TokenPair{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, TokenPair{}, ErrWeakPassword
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, TokenPair{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, TokenPair{}, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, tokens, nil
}

// Login authenticates a user and returns tokens. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, tokens, nil
}

// Authorize validates a bearer token and returns the associated user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issueTokens(userID string) (TokenPair, error) {
	access, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	domainPart := email[at+1:]
	if strings.Contains(domainPart, "@") || !strings.Contains(domainPart, ".") {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}
