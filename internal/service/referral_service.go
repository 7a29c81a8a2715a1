package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
	"github.com/SinaHo/learning-platform-referrals/internal/repository"
)

var ErrAccountNotFound = errors.New("account not found")

type ReferredUser struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReferralStats struct {
	ReferralCode   string         `json:"referralCode"`
	ReferralLink   string         `json:"referralLink"`
	TotalReferrals int64          `json:"totalReferrals"`
	ReferredUsers  []ReferredUser `json:"referredUsers"`
	ReferredBy     *ReferredUser  `json:"referredBy"`
}

type ReferralLink struct {
	ReferralCode   string `json:"referralCode"`
	ReferralLink   string `json:"referralLink"`
	TotalReferrals int64  `json:"totalReferrals"`
}

// ReferralService serves referral link visits and the read-only referral
// views of an account.
type ReferralService interface {
	Visit(ctx context.Context, code, existingToken string) (referral.Resolution, error)
	Stats(ctx context.Context, userID uuid.UUID) (*ReferralStats, error)
	// Link returns the caller's link, or the link of the account registered
	// under email when email is non-empty.
	Link(ctx context.Context, userID uuid.UUID, email string) (*ReferralLink, error)
	// Reconcile recounts the caller's referrals from stored pointers.
	Reconcile(ctx context.Context, userID uuid.UUID) (int64, error)
}

type referralService struct {
	repo     repository.UserRepository
	resolver *referral.Resolver
	baseURL  string
}

func NewReferralService(repo repository.UserRepository, resolver *referral.Resolver, baseURL string) ReferralService {
	return &referralService{
		repo:     repo,
		resolver: resolver,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (s *referralService) link(code string) string {
	return s.baseURL + "/r/" + code
}

func (s *referralService) Visit(ctx context.Context, code, existingToken string) (referral.Resolution, error) {
	return s.resolver.Resolve(ctx, code, existingToken)
}

func (s *referralService) account(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrAccountNotFound
	}
	return u, nil
}

func (s *referralService) Stats(ctx context.Context, userID uuid.UUID) (*ReferralStats, error) {
	u, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	referred, err := s.repo.ListReferred(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	stats := &ReferralStats{
		ReferralCode:   u.ReferralCode,
		ReferralLink:   s.link(u.ReferralCode),
		TotalReferrals: u.TotalReferrals,
		ReferredUsers:  make([]ReferredUser, 0, len(referred)),
	}
	for _, r := range referred {
		stats.ReferredUsers = append(stats.ReferredUsers, ReferredUser{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt})
	}

	// referred_by may point at a deleted account; report it as unset.
	if u.ReferredBy.Valid {
		by, err := s.repo.GetByID(ctx, u.ReferredBy.UUID)
		if err != nil {
			return nil, err
		}
		if by != nil {
			stats.ReferredBy = &ReferredUser{ID: by.ID, Email: by.Email, CreatedAt: by.CreatedAt}
		}
	}
	return stats, nil
}

func (s *referralService) Link(ctx context.Context, userID uuid.UUID, email string) (*ReferralLink, error) {
	var (
		u   *model.User
		err error
	)
	if email = normalizeEmail(email); email != "" {
		u, err = s.repo.GetByEmail(ctx, email)
		if err == nil && u == nil {
			err = ErrAccountNotFound
		}
	} else {
		u, err = s.account(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return &ReferralLink{
		ReferralCode:   u.ReferralCode,
		ReferralLink:   s.link(u.ReferralCode),
		TotalReferrals: u.TotalReferrals,
	}, nil
}

func (s *referralService) Reconcile(ctx context.Context, userID uuid.UUID) (int64, error) {
	total, err := s.repo.RecountReferrals(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reconcile referrals: %w", err)
	}
	return total, nil
}
