// Package auth implements the token lifecycle service: password login,
// stateless access tokens, rotating refresh tokens, and one-time password
// reset tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fruitripe.dev/chamber-hub/internal/store"
)

// bcryptCost is the work factor for password hashes.
const bcryptCost = 12

// UserStore is the slice of the store the service needs for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id uint) (*store.User, error)
	UpdatePassword(ctx context.Context, userID uint, passwordHash string) error
}

// TokenStore is the slice of the store the service needs for refresh and
// reset token rows.
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, token *store.RefreshToken) error
	RefreshTokenByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id uint) (bool, error)
	DeleteRefreshTokenByHash(ctx context.Context, tokenHash string) error
	CreatePasswordResetToken(ctx context.Context, token *store.PasswordResetToken) error
	PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*store.PasswordResetToken, error)
	ConsumePasswordResetToken(ctx context.Context, id uint) (bool, error)
}

// Mailer delivers password-reset mail. Delivery failure never alters the
// reset-token state machine.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// Config holds the token service settings.
type Config struct {
	// JWTSecret signs access tokens (HS256).
	JWTSecret []byte
	// AccessTTL is the access-token lifetime.
	AccessTTL time.Duration
	// RefreshTTL is the refresh-token lifetime.
	RefreshTTL time.Duration
	// ResetTTL is the password-reset-token lifetime.
	ResetTTL time.Duration
	// ReturnResetToken echoes the raw reset token in the forgot-password
	// response. Debug only.
	ReturnResetToken bool
	// FrontendBaseURL is the base for reset links in mail.
	FrontendBaseURL string
}

// Service is the token lifecycle service.
type Service struct {
	users  UserStore
	tokens TokenStore
	mailer Mailer
	logger *slog.Logger
	cfg    Config
}

// NewService creates a token service.
func NewService(users UserStore, tokens TokenStore, mailer Mailer, logger *slog.Logger, cfg Config) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("jwt secret cannot be empty")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 12 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 60 * time.Minute
	}

	return &Service{
		users:  users,
		tokens: tokens,
		mailer: mailer,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Session is the result of register, login, and refresh: a fresh stateless
// access token, a fresh refresh secret, and the authenticated user.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *store.User
}

// ResetRequest is the result of ForgotPassword. Token is populated only
// when the debug echo flag is on and the email matched an account.
type ResetRequest struct {
	ResetURL string
	Token    string
}

// Register creates a new account and opens a session.
// Returns ErrEmailTaken when the email already exists.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &store.User{Name: name, Email: email, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return s.issueSession(ctx, user)
}

// Login verifies the credentials and opens a session. An unknown email and
// a wrong password produce the same ErrInvalidCredentials. Multiple
// concurrent sessions per user are allowed.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented secret is invalidated and
// a new one issued. A replayed, already-rotated secret fails with
// ErrInvalidToken; with concurrent refreshes of the same secret exactly one
// succeeds, because the row delete is a single serialized statement.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	row, err := s.tokens.RefreshTokenByHash(ctx, hashSecret(refreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if time.Now().After(row.ExpiresAt) {
		// Lazy expiry: reap the dead row on the way out.
		if _, err := s.tokens.DeleteRefreshToken(ctx, row.ID); err != nil {
			s.logger.Error("failed to delete expired refresh token", "error", err)
		}
		return nil, ErrExpiredToken
	}

	user, err := s.users.UserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	deleted, err := s.tokens.DeleteRefreshToken(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// Another refresh with the same secret won the rotation.
		return nil, ErrInvalidToken
	}

	return s.issueSession(ctx, user)
}

// Logout deletes the refresh token row. Idempotent: an unknown token is
// not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.DeleteRefreshTokenByHash(ctx, hashSecret(refreshToken))
}

// ForgotPassword creates a one-time reset token and attempts mail delivery.
// The result shape is identical whether or not the email exists, and mail
// failure is logged, never surfaced.
func (s *Service) ForgotPassword(ctx context.Context, email string) (*ResetRequest, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ResetRequest{}, nil
		}
		return nil, err
	}

	secret, err := newOpaqueSecret()
	if err != nil {
		return nil, err
	}

	row := &store.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hashSecret(secret),
		ExpiresAt: time.Now().Add(s.cfg.ResetTTL),
	}
	if err := s.tokens.CreatePasswordResetToken(ctx, row); err != nil {
		return nil, err
	}

	resetURL := fmt.Sprintf("%s/#/reset?token=%s&email=%s",
		s.cfg.FrontendBaseURL, url.QueryEscape(secret), url.QueryEscape(email))

	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, email, resetURL); err != nil {
			s.logger.Error("failed to send reset email", "error", err)
		}
	}

	req := &ResetRequest{ResetURL: resetURL}
	if s.cfg.ReturnResetToken {
		req.Token = secret
	}
	return req, nil
}

// ResetPassword consumes a one-time reset token and sets a new password.
// Unknown, used, and expired tokens all fail with ErrResetTokenInvalid.
// The token is consumed through a guarded single-statement update, so a
// concurrent second reset with the same token fails.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	row, err := s.tokens.PasswordResetTokenByHash(ctx, hashSecret(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	if row.UsedAt != nil || time.Now().After(row.ExpiresAt) {
		return ErrResetTokenInvalid
	}

	consumed, err := s.tokens.ConsumePasswordResetToken(ctx, row.ID)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrResetTokenInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, row.UserID, string(hash))
}

// VerifyAccessToken statelessly validates an access token. It does not
// consult the store, so it cannot detect a token issued to a since-deleted
// user; the short TTL bounds that window.
func (s *Service) VerifyAccessToken(token string) (*Claims, error) {
	return parseAccessToken(s.cfg.JWTSecret, token)
}

// issueSession mints an access token and a fresh refresh token for the user.
func (s *Service) issueSession(ctx context.Context, user *store.User) (*Session, error) {
	access, err := signAccessToken(s.cfg.JWTSecret, user.ID, user.Email, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	secret, err := newOpaqueSecret()
	if err != nil {
		return nil, err
	}

	row := &store.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashSecret(secret),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTTL),
	}
	if err := s.tokens.CreateRefreshToken(ctx, row); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: secret,
		User:         user,
	}, nil
}
