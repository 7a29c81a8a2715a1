package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
	"github.com/SinaHo/learning-platform-referrals/internal/repository"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type RegisterInput struct {
	Email    string
	Password string
	Lang     model.Language
	// AttributionToken is the raw attribution cookie value, possibly empty.
	AttributionToken string
}

type RegisterResult struct {
	ID           uuid.UUID
	ReferralCode string
	ReferredBy   uuid.NullUUID
	JwtToken     string
}

type LoginInput struct {
	Email    string
	Password string
}

type LoginResult struct {
	JwtToken string
}

// AuthService defines business logic for authentication.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*RegisterResult, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
}

type authService struct {
	repo        repository.UserRepository
	attributor  *referral.Attributor
	maxAttempts int
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *zap.SugaredLogger
}

// NewAuthService constructs a new AuthService. maxCodeAttempts bounds how
// many times an insert is retried after losing a referral code race.
func NewAuthService(
	repo repository.UserRepository,
	attributor *referral.Attributor,
	maxCodeAttempts int,
	jwtSecret []byte,
	tokenExpiry time.Duration,
	logger *zap.SugaredLogger,
) AuthService {
	if maxCodeAttempts <= 0 {
		maxCodeAttempts = referral.DefaultMaxCodeAttempts
	}
	return &authService{
		repo:        repo,
		attributor:  attributor,
		maxAttempts: maxCodeAttempts,
		jwtSecret:   jwtSecret,
		tokenExpiry: tokenExpiry,
		logger:      logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account with its own referral code and, when the
// attribution token names a live referrer, credits that referrer.
func (s *authService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	lang := in.Lang
	if lang != model.Language_EN && lang != model.Language_FA {
		lang = model.Language_EN
	}

	u := &model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hashed),
		Lang:         lang,
	}
	attribution, err := s.attributor.Prepare(ctx, u, in.AttributionToken)
	if err != nil {
		return nil, err
	}

	created, err := s.createWithUniqueCode(ctx, u)
	if err != nil {
		return nil, err
	}

	// The account row is committed; a cancelled request must not cost the
	// referrer their increment.
	_ = attribution.Apply(context.WithoutCancel(ctx), created.ID)

	jwtStr, err := s.signToken(created)
	if err != nil {
		return nil, err
	}

	return &RegisterResult{
		ID:           created.ID,
		ReferralCode: created.ReferralCode,
		ReferredBy:   created.ReferredBy,
		JwtToken:     jwtStr,
	}, nil
}

// createWithUniqueCode inserts u, drawing a new referral code each time the
// store reports the current one was taken by a concurrent signup.
func (s *authService) createWithUniqueCode(ctx context.Context, u *model.User) (*model.User, error) {
	for attempt := 1; ; attempt++ {
		created, err := s.repo.Create(ctx, u)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, repository.ErrReferralCodeTaken) {
			return nil, err
		}
		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("%w: insert lost %d code races", referral.ErrCodeSpaceExhausted, attempt)
		}
		s.logger.Warnw("referral code taken at insert, regenerating", "code", u.ReferralCode, "attempt", attempt)
		u.ReferralCode = ""
		if err := s.attributor.AssignCode(ctx, u); err != nil {
			return nil, err
		}
	}
}

// Login verifies email+password, then returns a fresh JWT.
func (s *authService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	jwtStr, err := s.signToken(u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{JwtToken: jwtStr}, nil
}

func (s *authService) signToken(u *model.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   u.ID.String(),
		"email": u.Email,
		"exp":   time.Now().Add(s.tokenExpiry).Unix(),
	})
	jwtStr, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", errors.New("failed to sign JWT")
	}
	return jwtStr, nil
}
