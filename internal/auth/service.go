// Package auth manages accounts: registration with optional email
// confirmation, password login with JWT bearer tokens, and profile updates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"finvue/internal/cache"
	"finvue/internal/log"
	"finvue/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

// DefaultRevocationCapacity bounds the logout denylist.
const DefaultRevocationCapacity = 100_000

type Config struct {
	Secret              []byte
	Issuer              string
	TokenTTL            time.Duration
	ConfirmTTL          time.Duration
	RequireConfirmation bool
	PublicBaseURL       string
	BcryptCost          int
	RevocationCapacity  int
}

type Service struct {
	users   storage.UserStore
	mailer  Mailer
	cfg     Config
	tokens  tokenIssuer
	revoked *cache.LRUCache[time.Time]
	logger  *log.Logger

	// Tokens issued at or before revokedBefore are rejected once a live
	// revocation has been evicted from the denylist.
	cutoffMu      sync.Mutex
	revokedBefore time.Time
}

func NewService(users storage.UserStore, mailer Mailer, cfg Config, logger *log.Logger) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "finvue"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = 48 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.RevocationCapacity <= 0 {
		cfg.RevocationCapacity = DefaultRevocationCapacity
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	s := &Service{
		users:  users,
		mailer: mailer,
		cfg:    cfg,
		tokens: tokenIssuer{secret: cfg.Secret, issuer: cfg.Issuer, now: time.Now},
		logger: logger.WithComponent(log.ComponentAuth),
	}
	s.revoked = cache.NewLRUCache[time.Time](cfg.RevocationCapacity, cfg.TokenTTL).
		WithEvictHandler(s.revocationEvicted)
	return s
}

func (s *Service) revocationEvicted(_ string, issuedAt time.Time) {
	s.cutoffMu.Lock()
	if issuedAt.After(s.revokedBefore) {
		s.revokedBefore = issuedAt
	}
	s.cutoffMu.Unlock()
	s.logger.Warn("Revocation list full, rejecting older tokens",
		"issued_before", issuedAt, "capacity", s.cfg.RevocationCapacity)
}

func (s *Service) issuedBeforeCutoff(claims *Claims) bool {
	s.cutoffMu.Lock()
	cutoff := s.revokedBefore
	s.cutoffMu.Unlock()
	if cutoff.IsZero() {
		return false
	}
	return claims.IssuedAt == nil || !claims.IssuedAt.After(cutoff)
}

// RevocationCache exposes the logout denylist for periodic cleanup.
func (s *Service) RevocationCache() cache.Cleaner {
	return s.revoked
}

func validateEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return storage.NormalizeEmail(addr.Address), nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Register creates an account. With confirmation required the user must
// follow the emailed link before logging in.
func (s *Service) Register(ctx context.Context, rawEmail, password string) (storage.User, error) {
	email, err := validateEmail(rawEmail)
	if err != nil {
		return storage.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return storage.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, storage.User{
		Email:          email,
		PasswordHash:   string(hash),
		EmailConfirmed: !s.cfg.RequireConfirmation,
	})
	if errors.Is(err, storage.ErrUserExists) {
		return storage.User{}, ErrAlreadyRegistered
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, user.ID)
	if s.cfg.RequireConfirmation {
		if err := s.sendConfirmation(ctx, user); err != nil {
			s.logger.WarnContext(ctx, "Confirmation email not sent", log.FieldUserID, user.ID, log.FieldError, err)
		}
	}
	return user, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user storage.User) error {
	token, _, err := s.tokens.issue(user.ID, user.Email, PurposeConfirm, s.cfg.ConfirmTTL)
	if err != nil {
		return err
	}
	link := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/api/auth/confirm?token=" + url.QueryEscape(token)
	return s.mailer.SendConfirmation(ctx, user.Email, link)
}

// Confirm marks the email of the token's subject as confirmed.
func (s *Service) Confirm(ctx context.Context, token string) error {
	claims, err := s.tokens.parse(token, PurposeConfirm)
	if err != nil {
		return err
	}
	if err := s.users.ConfirmEmail(ctx, claims.Subject); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("confirm email: %w", err)
	}
	return nil
}

// Login checks the password and issues an access token.
func (s *Service) Login(ctx context.Context, rawEmail, password string) (Token, storage.User, error) {
	user, err := s.users.GetUserByEmail(ctx, rawEmail)
	if errors.Is(err, storage.ErrNotFound) {
		return Token{}, storage.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, storage.User{}, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Invalid password attempt", log.FieldUserID, user.ID)
		return Token{}, storage.User{}, ErrInvalidCredentials
	}
	if s.cfg.RequireConfirmation && !user.EmailConfirmed {
		return Token{}, storage.User{}, ErrEmailNotConfirmed
	}

	signed, exp, err := s.tokens.issue(user.ID, user.Email, PurposeAccess, s.cfg.TokenTTL)
	if err != nil {
		return Token{}, storage.User{}, err
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp}, user, nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (*Claims, error) {
	claims, err := s.tokens.parse(token, PurposeAccess)
	if err != nil {
		return nil, err
	}
	if _, revoked := s.revoked.Get(claims.ID); revoked || s.issuedBeforeCutoff(claims) {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway. The denylist
// holds Config.RevocationCapacity live entries; when a revocation is evicted
// to make room, every token issued up to that one is rejected, so users with
// older tokens have to log in again.
func (s *Service) Logout(claims *Claims) {
	ttl := s.cfg.TokenTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	issuedAt := time.Now()
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if ttl > 0 {
		s.revoked.SetWithTTL(claims.ID, issuedAt, ttl)
	}
}

func (s *Service) Profile(ctx context.Context, userID string) (storage.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s *Service) UpdateDisplayName(ctx context.Context, userID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return ErrEmptyDisplayName
	}
	return s.users.UpdateDisplayName(ctx, userID, displayName)
}

// ChangePassword requires the confirmation to match before the length check.
func (s *Service) ChangePassword(ctx context.Context, userID, password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePasswordHash(ctx, userID, string(hash))
}
