// Package auth implements phone number login with one-time verification codes.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/store"
)

var (
	// ErrInvalidPhone is returned for a phone number that fails validation.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidCode is returned when the submitted code does not match.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrCodeExpired is returned when no code is pending for the phone.
	ErrCodeExpired = errors.New("verification code expired or not requested")

	// ErrUserInactive is returned when a deactivated user tries to log in.
	ErrUserInactive = errors.New("user is inactive")
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,20}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips common separators and validates the result.
func NormalizePhone(phone string) (string, error) {
	normalized := phoneSeparators.Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(normalized) {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}

// GenerateCode returns a random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 || length > 12 {
		return "", fmt.Errorf("generate code: unsupported length %d", length)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// Sender delivers verification codes to users.
type Sender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending an SMS.
type LogSender struct{}

// SendCode logs the masked phone number. The code itself is only logged at
// debug level.
func (LogSender) SendCode(_ context.Context, phone, code string) error {
	masked := (&domain.User{Phone: phone}).MaskedPhone()
	slog.Info("Verification code issued", "phone", masked)
	slog.Debug("Verification code value", "phone", masked, "code", code)
	return nil
}

// Config tunes code issuance.
type Config struct {
	CodeLength int
	CodeTTL    time.Duration
}

// Service issues codes and exchanges them for access tokens.
type Service struct {
	codes  CodeStore
	sender Sender
	users  store.UserStore
	tokens *identity.Tokens
	cfg    Config
}

// NewService creates an auth service.
func NewService(codes CodeStore, sender Sender, users store.UserStore, tokens *identity.Tokens, cfg Config) *Service {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	return &Service{codes: codes, sender: sender, users: users, tokens: tokens, cfg: cfg}
}

// SendCode issues a fresh code for phone and returns it so callers in debug
// mode can echo it back.
func (s *Service) SendCode(ctx context.Context, phone string) (string, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}

	code, err := GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return "", err
	}
	if err := s.codes.Save(ctx, normalized, code, s.cfg.CodeTTL); err != nil {
		return "", err
	}
	if err := s.sender.SendCode(ctx, normalized, code); err != nil {
		return "", fmt.Errorf("send verification code: %w", err)
	}
	return code, nil
}

// Login is the result of a successful verification.
type Login struct {
	AccessToken string
	User        *domain.User
	Created     bool
}

// VerifyCode consumes the code for phone, creating the user on first login,
// and issues an access token.
func (s *Service) VerifyCode(ctx context.Context, phone, code string) (*Login, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	if err := s.codes.Consume(ctx, normalized, code); err != nil {
		return nil, err
	}

	user, created, err := s.users.GetOrCreateUserByPhone(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	token, err := s.tokens.Issue(user.UserID)
	if err != nil {
		return nil, err
	}

	if created {
		slog.Info("Registered new user", "user_id", user.UserID, "phone", user.MaskedPhone())
	}
	return &Login{AccessToken: token, User: user, Created: created}, nil
}

// Ping reports whether the code store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.codes.Ping(ctx)
}
