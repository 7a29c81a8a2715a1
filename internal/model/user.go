package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Language int32

const (
	Language_EN Language = 0
	Language_FA Language = 1
)

// ParseLanguage maps "fa" to Language_FA; everything else is English.
func ParseLanguage(s string) Language {
	if strings.EqualFold(strings.TrimSpace(s), "fa") {
		return Language_FA
	}
	return Language_EN
}

// ReferralCodeLength is the number of decimal digits in a referral code.
const ReferralCodeLength = 7

// User is an account. ReferralCode and ReferredBy are fixed at creation;
// TotalReferrals only grows as other accounts sign up through this one.
type User struct {
	ID             uuid.UUID     `db:"id"`
	Email          string        `db:"email"`
	PasswordHash   string        `db:"password_hash"`
	Lang           Language      `db:"lang"`
	ReferralCode   string        `db:"referral_code"`
	ReferredBy     uuid.NullUUID `db:"referred_by"`
	TotalReferrals int64         `db:"total_referrals"`
	CreatedAt      time.Time     `db:"created_at"`
}

// IsReferred reports whether the account was attributed to a referrer.
func (u *User) IsReferred() bool {
	return u.ReferredBy.Valid
}
