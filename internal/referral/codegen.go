package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/SinaHo/learning-platform-referrals/internal/metrics"
	"github.com/SinaHo/learning-platform-referrals/internal/model"
)

// ErrCodeSpaceExhausted is returned when every draw within the attempt budget
// collided with an existing code.
var ErrCodeSpaceExhausted = errors.New("referral code space exhausted")

const (
	minCode  = 1000000
	codeSpan = 9000000 // [1000000, 9999999]

	DefaultMaxCodeAttempts = 20
)

// CodeChecker reports whether a referral code is already held by an account.
type CodeChecker interface {
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
}

type drawState int

const (
	stateDrawing drawState = iota
	stateChecking
	stateRetry
	stateAccepted
	stateExhausted
)

// CodeGenerator draws 7-digit referral codes that no account holds at the
// moment of the check. The uniqueness check is best-effort; the store's
// unique constraint decides races between concurrent signups.
type CodeGenerator struct {
	store       CodeChecker
	maxAttempts int
	draw        func() (int64, error)
	metrics     *metrics.Referral
}

type GeneratorOption func(*CodeGenerator)

// WithDraw replaces the random source. draw must return an offset in
// [0, 9000000).
func WithDraw(draw func() (int64, error)) GeneratorOption {
	return func(g *CodeGenerator) { g.draw = draw }
}

func WithGeneratorMetrics(m *metrics.Referral) GeneratorOption {
	return func(g *CodeGenerator) { g.metrics = m }
}

func NewCodeGenerator(store CodeChecker, maxAttempts int, opts ...GeneratorOption) *CodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCodeAttempts
	}
	g := &CodeGenerator{
		store:       store,
		maxAttempts: maxAttempts,
		draw:        cryptoDraw,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAttempts is the draw budget for a single Generate call.
func (g *CodeGenerator) MaxAttempts() int {
	return g.maxAttempts
}

func cryptoDraw() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// Generate returns a code not currently held by any account.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	var (
		code    string
		attempt int
		state   = stateDrawing
	)
	for {
		switch state {
		case stateDrawing:
			if attempt >= g.maxAttempts {
				state = stateExhausted
				continue
			}
			attempt++
			n, err := g.draw()
			if err != nil {
				return "", fmt.Errorf("draw referral code: %w", err)
			}
			if n < 0 || n >= codeSpan {
				return "", fmt.Errorf("draw referral code: offset %d out of range", n)
			}
			code = strconv.FormatInt(minCode+n, 10)
			state = stateChecking

		case stateChecking:
			taken, err := g.store.ReferralCodeExists(ctx, code)
			if err != nil {
				return "", fmt.Errorf("check referral code: %w", err)
			}
			if taken {
				g.metrics.CodeCollision()
				state = stateRetry
			} else {
				state = stateAccepted
			}

		case stateRetry:
			if err := ctx.Err(); err != nil {
				return "", err
			}
			state = stateDrawing

		case stateAccepted:
			return code, nil

		case stateExhausted:
			return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, attempt)
		}
	}
}

// ValidCode reports whether code has the shape of a referral code. It says
// nothing about whether an account holds it.
func ValidCode(code string) bool {
	if len(code) != model.ReferralCodeLength || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
