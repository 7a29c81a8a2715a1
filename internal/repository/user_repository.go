package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrReferralCodeTaken = errors.New("referral code already in use")
	ErrSelfReferral      = errors.New("account cannot refer itself")
	ErrInvalidDelta      = errors.New("referral counter delta must be positive")
)

// UserRepository is the account store. It is the single authority for the
// uniqueness of email and referral_code; callers hold no locks of their own.
type UserRepository interface {
	// Create inserts a new account. ReferralCode must already be assigned.
	// A zero ID or CreatedAt is filled in.
	Create(ctx context.Context, u *model.User) (*model.User, error)
	// GetByID, GetByEmail and GetByReferralCode return (nil, nil) if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByReferralCode(ctx context.Context, code string) (*model.User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	// IncrementTotalReferrals atomically adds delta to the referrer's counter.
	IncrementTotalReferrals(ctx context.Context, id uuid.UUID, delta int64) error
	ListReferred(ctx context.Context, referrerID uuid.UUID) ([]model.User, error)
	// RecountReferrals rewrites total_referrals from the referred_by pointers
	// and returns the new value.
	RecountReferrals(ctx context.Context, id uuid.UUID) (int64, error)
	// Delete removes an account without touching referred_by pointers that
	// reference it.
	Delete(ctx context.Context, id uuid.UUID) error
}

const (
	userColumns = `id, email, password_hash, lang, referral_code, referred_by, total_referrals, created_at`

	uniqueViolation = "23505"
	checkViolation  = "23514"

	emailConstraint        = "users_email_key"
	referralCodeConstraint = "users_referral_code_key"
	selfReferralConstraint = "users_not_self_referred"
)

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs a new UserRepository backed by a sqlx.DB.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new User into PostgreSQL.
func (r *userRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)", u.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking existing email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	id := u.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns
	var out model.User
	err = r.db.GetContext(
		ctx,
		&out,
		query,
		id,
		u.Email,
		u.PasswordHash,
		int32(u.Lang),
		u.ReferralCode,
		u.ReferredBy,
		u.TotalReferrals,
		createdAt,
	)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("error inserting user: %w", err)
	}
	return &out, nil
}

func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch {
	case pqErr.Code == uniqueViolation && pqErr.Constraint == referralCodeConstraint:
		return ErrReferralCodeTaken
	case pqErr.Code == uniqueViolation && pqErr.Constraint == emailConstraint:
		return ErrEmailTaken
	case pqErr.Code == checkViolation && pqErr.Constraint == selfReferralConstraint:
		return ErrSelfReferral
	}
	return nil
}

func (r *userRepository) getOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	var u model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	err := r.db.GetContext(ctx, &u, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := r.getOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("error selecting user by id: %w", err)
	}
	return u, nil
}

// GetByEmail fetches a user row by its email. Returns (nil, nil) if not found.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := r.getOne(ctx, "email = $1", email)
	if err != nil {
		return nil, fmt.Errorf("error selecting user by email: %w", err)
	}
	return u, nil
}

func (r *userRepository) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	u, err := r.getOne(ctx, "referral_code = $1", code)
	if err != nil {
		return nil, fmt.Errorf("error selecting user by referral code: %w", err)
	}
	return u, nil
}

func (r *userRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM users WHERE referral_code=$1)", code)
	if err != nil {
		return false, fmt.Errorf("error checking referral code: %w", err)
	}
	return exists, nil
}

func (r *userRepository) IncrementTotalReferrals(ctx context.Context, id uuid.UUID, delta int64) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET total_referrals = total_referrals + $2 WHERE id = $1", id, delta)
	if err != nil {
		return fmt.Errorf("error incrementing referrals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) ListReferred(ctx context.Context, referrerID uuid.UUID) ([]model.User, error) {
	users := []model.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE referred_by = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &users, query, referrerID); err != nil {
		return nil, fmt.Errorf("error listing referred users: %w", err)
	}
	return users, nil
}

func (r *userRepository) RecountReferrals(ctx context.Context, id uuid.UUID) (int64, error) {
	var total int64
	query := `
		UPDATE users
		SET total_referrals = (SELECT COUNT(*) FROM users r WHERE r.referred_by = $1)
		WHERE id = $1
		RETURNING total_referrals
	`
	if err := r.db.GetContext(ctx, &total, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("error recounting referrals: %w", err)
	}
	return total, nil
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
