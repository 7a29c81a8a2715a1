package referral

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/metrics"
	"github.com/SinaHo/learning-platform-referrals/internal/model"
)

// AccountStore is what signup attribution reads and writes.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	IncrementTotalReferrals(ctx context.Context, id uuid.UUID, delta int64) error
}

// Attributor finalizes referral attribution for a new account. Attribution
// is a best-effort side effect: apart from code assignment nothing it does
// can fail the signup it is attached to.
type Attributor struct {
	codes   *CodeGenerator
	store   AccountStore
	tokens  *TokenCodec
	metrics *metrics.Referral
	logger  *zap.SugaredLogger
}

func NewAttributor(
	codes *CodeGenerator,
	store AccountStore,
	tokens *TokenCodec,
	m *metrics.Referral,
	logger *zap.SugaredLogger,
) *Attributor {
	return &Attributor{codes: codes, store: store, tokens: tokens, metrics: m, logger: logger}
}

// AssignCode gives u a fresh referral code if it has none.
func (a *Attributor) AssignCode(ctx context.Context, u *model.User) error {
	if u.ReferralCode != "" {
		return nil
	}
	code, err := a.codes.Generate(ctx)
	if err != nil {
		return fmt.Errorf("assign referral code: %w", err)
	}
	u.ReferralCode = code
	return nil
}

// Prepare runs before u is persisted. It assigns u's referral code and, when
// rawToken names a referrer that still exists, sets u.ReferredBy. The returned
// Attribution (nil when nothing was attributed) must be applied once u has
// been stored. Only a code assignment failure is returned as an error.
func (a *Attributor) Prepare(ctx context.Context, u *model.User, rawToken string) (*Attribution, error) {
	if err := a.AssignCode(ctx, u); err != nil {
		return nil, err
	}

	if u.ReferredBy.Valid {
		a.metrics.Attribution(metrics.AttributionAlreadyReferred)
		return nil, nil
	}

	tok, ok := a.tokens.Decode(rawToken)
	if !ok {
		a.metrics.Attribution(metrics.AttributionNoToken)
		return nil, nil
	}

	referrer, err := a.store.GetByID(ctx, tok.ReferrerID)
	if err != nil {
		a.metrics.Attribution(metrics.AttributionLookupError)
		a.logger.Errorw("referrer lookup failed, skipping attribution",
			"referrer_id", tok.ReferrerID, "error", err)
		return nil, nil
	}
	if referrer == nil {
		a.metrics.Attribution(metrics.AttributionDangling)
		a.logger.Infow("referrer no longer exists, skipping attribution",
			"referrer_id", tok.ReferrerID, "code", tok.ReferralCode)
		return nil, nil
	}
	if u.ID != uuid.Nil && referrer.ID == u.ID {
		a.metrics.Attribution(metrics.AttributionSelf)
		return nil, nil
	}

	u.ReferredBy = uuid.NullUUID{UUID: referrer.ID, Valid: true}
	return &Attribution{
		ReferrerID:   referrer.ID,
		ReferralCode: tok.ReferralCode,
		store:        a.store,
		metrics:      a.metrics,
		logger:       a.logger,
	}, nil
}

// Attribution is a pending increment of a referrer's counter.
type Attribution struct {
	ReferrerID   uuid.UUID
	ReferralCode string

	store   AccountStore
	metrics *metrics.Referral
	logger  *zap.SugaredLogger
	applied atomic.Bool
}

// Apply increments the referrer's counter by one. It is a no-op on a nil
// Attribution and on every call after the first. A failure leaves the counter
// short by one until it is recounted; it must not undo the signup.
func (at *Attribution) Apply(ctx context.Context, referredID uuid.UUID) error {
	if at == nil || !at.applied.CompareAndSwap(false, true) {
		return nil
	}
	if err := at.store.IncrementTotalReferrals(ctx, at.ReferrerID, 1); err != nil {
		at.metrics.Attribution(metrics.AttributionIncrementError)
		at.logger.Errorw("referral counter increment failed",
			"referrer_id", at.ReferrerID, "referred_id", referredID, "error", err)
		return fmt.Errorf("increment referrals for %s: %w", at.ReferrerID, err)
	}
	at.metrics.Attribution(metrics.AttributionAttributed)
	at.logger.Infow("signup attributed",
		"referrer_id", at.ReferrerID, "referred_id", referredID, "code", at.ReferralCode)
	return nil
}
