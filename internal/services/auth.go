package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jalsetu/apiserver/internal/store"
	"github.com/jalsetu/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength    = 8
	otpDigits            = 6
	defaultOTPMaxAttempt = 5
	defaultOTPTTL        = 600 * time.Second
	defaultTokenTTL      = 7 * 24 * time.Hour
)

// SessionRepository defines persistence operations for bearer-token sessions.
type SessionRepository interface {
	Create(ctx context.Context, session types.Session) error
	Get(ctx context.Context, token string) (types.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPRepository defines persistence operations for signup codes.
type OTPRepository interface {
	Upsert(ctx context.Context, otp types.SignupOTP) error
	Get(ctx context.Context, email string) (types.SignupOTP, error)
	IncrementAttempts(ctx context.Context, email string) error
	Delete(ctx context.Context, email string) error
}

// OTPSender delivers a signup code to an email address.
type OTPSender interface {
	SendOTP(ctx context.Context, email, code string, ttl time.Duration) error
}

// AuthOptions configures token and OTP behaviour.
type AuthOptions struct {
	Secret         string
	TokenTTL       time.Duration
	RequireOTP     bool
	OTPTTL         time.Duration
	OTPMaxAttempts int
}

// AuthService implements signup, OTP verification, login and session checks.
type AuthService struct {
	users    UserRepository
	sessions SessionRepository
	otps     OTPRepository
	sender   OTPSender
	opts     AuthOptions
	secret   []byte
	now      func() time.Time
}

func NewAuthService(users UserRepository, sessions SessionRepository, otps OTPRepository, sender OTPSender, opts AuthOptions) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = defaultOTPTTL
	}
	if opts.OTPMaxAttempts <= 0 {
		opts.OTPMaxAttempts = defaultOTPMaxAttempt
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		otps:     otps,
		sender:   sender,
		opts:     opts,
		secret:   []byte(opts.Secret),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// RequiresOTP reports whether new accounts must confirm their email.
func (s *AuthService) RequiresOTP() bool {
	return s.opts.RequireOTP
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Role     string `json:"role"`
}

// AuthResult is returned by every operation that opens a session.
// Token is empty when the account still has to confirm its email.
type AuthResult struct {
	Token       string        `json:"token,omitempty"`
	Account     types.Account `json:"user"`
	OTPRequired bool          `json:"otp_required,omitempty"`
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if len(req.Password) < minPasswordLength {
		return AuthResult{}, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return AuthResult{}, invalid("full_name", "is required")
	}

	role := types.RoleResident
	if strings.TrimSpace(req.Role) != "" {
		role, err = types.ParseRole(req.Role)
		if err != nil {
			return AuthResult{}, invalid("role", err.Error())
		}
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return AuthResult{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.users.Create(ctx, types.Account{
		User: types.User{
			Email:         email,
			PasswordHash:  string(hashed),
			EmailVerified: !s.opts.RequireOTP,
		},
		Profile: types.Profile{
			FullName: fullName,
			Phone:    strings.TrimSpace(req.Phone),
			Address:  strings.TrimSpace(req.Address),
			Role:     role,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, ErrEmailTaken
		}
		return AuthResult{}, err
	}

	if s.opts.RequireOTP {
		if err := s.issueOTP(ctx, email); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{Account: account, OTPRequired: true}, nil
	}
	return s.startSession(ctx, account)
}

// VerifyOTP confirms the signup code for email and opens a session.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return AuthResult{}, invalid("otp", "is required")
	}

	otp, err := s.otps.Get(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrOTPInvalid
		}
		return AuthResult{}, err
	}

	if !s.now().Before(otp.ExpiresAt) {
		if err := s.otps.Delete(ctx, email); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{}, ErrOTPExpired
	}
	if otp.Attempts >= s.opts.OTPMaxAttempts {
		if err := s.otps.Delete(ctx, email); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{}, ErrOTPAttempts
	}
	if err := bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)); err != nil {
		if err := s.otps.IncrementAttempts(ctx, email); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{}, ErrOTPInvalid
	}

	if err := s.otps.Delete(ctx, email); err != nil {
		return AuthResult{}, err
	}
	account, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.users.SetEmailVerified(ctx, account.ID, true); err != nil {
		return AuthResult{}, err
	}
	account.EmailVerified = true
	return s.startSession(ctx, account)
}

// ResendOTP replaces the live signup code for an unverified account.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	account, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return invalid("email", "already verified")
	}
	return s.issueOTP(ctx, email)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return AuthResult{}, invalid("", "missing credentials")
	}

	account, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	if s.opts.RequireOTP && !account.EmailVerified {
		return AuthResult{}, ErrEmailNotVerified
	}
	return s.startSession(ctx, account)
}

// Logout revokes the session. Revoking an unknown session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Authenticate validates a bearer token against its session row and
// returns the owning account together with the session id.
func (s *AuthService) Authenticate(ctx context.Context, token string) (types.Account, string, error) {
	claims, err := parseToken(token, s.secret, s.now)
	if err != nil {
		return types.Account{}, "", ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, "", ErrUnauthorized
		}
		return types.Account{}, "", err
	}
	if session.UserID != claims.UserID {
		return types.Account{}, "", ErrUnauthorized
	}
	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, session.Token); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "failed to drop expired session", "user_id", session.UserID, "error", err)
		}
		return types.Account{}, "", ErrUnauthorized
	}

	account, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, "", ErrUnauthorized
		}
		return types.Account{}, "", err
	}
	return account, session.Token, nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

func (s *AuthService) startSession(ctx context.Context, account types.Account) (AuthResult, error) {
	now := s.now()
	session := types.Session{
		Token:     uuid.NewString(),
		UserID:    account.ID,
		ExpiresAt: now.Add(s.opts.TokenTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, err
	}

	token, err := issueToken(account.ID, session.Token, s.secret, now, s.opts.TokenTTL)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, Account: account}, nil
}

func (s *AuthService) issueOTP(ctx context.Context, email string) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.otps.Upsert(ctx, types.SignupOTP{
		Email:     email,
		CodeHash:  string(hashed),
		ExpiresAt: now.Add(s.opts.OTPTTL),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if s.sender == nil {
		slog.WarnContext(ctx, "no otp sender configured", "email", email)
		return nil
	}
	return s.sender.SendOTP(ctx, email, code, s.opts.OTPTTL)
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "is invalid")
	}
	return email, nil
}
