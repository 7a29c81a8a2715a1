package referral

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenLifetime bounds how long a referral link visit can be attributed.
	TokenLifetime = 30 * 24 * time.Hour

	maxClockSkew = time.Minute
)

// Token is a decoded attribution token.
type Token struct {
	ReferrerID   uuid.UUID
	ReferralCode string
	IssuedAt     time.Time
}

type attributionClaims struct {
	ReferrerID   string `json:"rid"`
	ReferralCode string `json:"code"`
	IssuedAtMs   int64  `json:"iat_ms"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies attribution tokens. Tokens are HS256 JWTs and
// carry everything needed to attribute a signup; nothing is stored server side.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

type TokenOption func(*TokenCodec)

// WithClock overrides time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

func NewTokenCodec(secret []byte, opts ...TokenOption) *TokenCodec {
	c := &TokenCodec{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode issues a token for referrerID stamped with the current time.
func (c *TokenCodec) Encode(referrerID uuid.UUID, referralCode string) (string, error) {
	claims := attributionClaims{
		ReferrerID:   referrerID.String(),
		ReferralCode: referralCode,
		IssuedAtMs:   c.now().UnixMilli(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies raw and returns its contents. Malformed, forged, incomplete
// and expired tokens all report false; callers cannot tell them apart from a
// missing token.
func (c *TokenCodec) Decode(raw string) (Token, bool) {
	if strings.TrimSpace(raw) == "" {
		return Token{}, false
	}

	var claims attributionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Token{}, false
	}

	referrerID, err := uuid.Parse(claims.ReferrerID)
	if err != nil || referrerID == uuid.Nil || claims.ReferralCode == "" || claims.IssuedAtMs <= 0 {
		return Token{}, false
	}
	issuedAt := time.UnixMilli(claims.IssuedAtMs)
	if !IsValid(issuedAt, c.now()) {
		return Token{}, false
	}

	return Token{
		ReferrerID:   referrerID,
		ReferralCode: claims.ReferralCode,
		IssuedAt:     issuedAt,
	}, true
}

// IsValid reports whether a token issued at issuedAt is still usable at now.
func IsValid(issuedAt, now time.Time) bool {
	age := now.Sub(issuedAt)
	return age < TokenLifetime && age > -maxClockSkew
}
