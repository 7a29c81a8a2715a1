package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/metrics"
	"github.com/SinaHo/learning-platform-referrals/internal/model"
)

var (
	ErrInvalidCode = errors.New("referral code is required")
	ErrNotFound    = errors.New("referral code not found")
)

// ReferrerLookup finds the account holding a referral code, or (nil, nil).
type ReferrerLookup interface {
	GetByReferralCode(ctx context.Context, code string) (*model.User, error)
}

// Resolution is the outcome of a referral link visit. Token is set only when
// Issued is true and must be written to the attribution cookie.
type Resolution struct {
	ReferrerID uuid.UUID
	Token      string
	Issued     bool
}

// Resolver handles referral link visits. It never mutates accounts.
type Resolver struct {
	lookup  ReferrerLookup
	tokens  *TokenCodec
	metrics *metrics.Referral
	logger  *zap.SugaredLogger
}

func NewResolver(lookup ReferrerLookup, tokens *TokenCodec, m *metrics.Referral, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{lookup: lookup, tokens: tokens, metrics: m, logger: logger}
}

// Resolve validates code and, unless existingToken already carries a valid
// attribution, issues a new token for the code's owner. The first valid
// token in a browser wins.
func (r *Resolver) Resolve(ctx context.Context, code, existingToken string) (Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		r.metrics.Visit(metrics.VisitInvalid)
		return Resolution{}, ErrInvalidCode
	}
	if !ValidCode(code) {
		r.metrics.Visit(metrics.VisitNotFound)
		return Resolution{}, ErrNotFound
	}

	referrer, err := r.lookup.GetByReferralCode(ctx, code)
	if err != nil {
		r.metrics.Visit(metrics.VisitError)
		return Resolution{}, fmt.Errorf("lookup referral code: %w", err)
	}
	if referrer == nil {
		r.metrics.Visit(metrics.VisitNotFound)
		return Resolution{}, ErrNotFound
	}

	if _, ok := r.tokens.Decode(existingToken); ok {
		r.metrics.Visit(metrics.VisitAlreadyAttributed)
		return Resolution{ReferrerID: referrer.ID}, nil
	}

	token, err := r.tokens.Encode(referrer.ID, code)
	if err != nil {
		r.metrics.Visit(metrics.VisitError)
		return Resolution{}, fmt.Errorf("encode attribution token: %w", err)
	}
	r.metrics.Visit(metrics.VisitIssued)
	r.logger.Debugw("attribution token issued", "referrer_id", referrer.ID, "code", code)
	return Resolution{ReferrerID: referrer.ID, Token: token, Issued: true}, nil
}
