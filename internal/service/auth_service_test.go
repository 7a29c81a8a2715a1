package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/SinaHo/learning-platform-referrals/internal/metrics"
	"github.com/SinaHo/learning-platform-referrals/internal/model"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
	"github.com/SinaHo/learning-platform-referrals/internal/repository"
	"github.com/SinaHo/learning-platform-referrals/internal/service"
)

var (
	jwtSecret      = []byte("test-secret")
	referralSecret = []byte("referral-secret")
)

// mockUserRepo wraps the in-memory store, captures what Create receives and
// can inject Create errors.
type mockUserRepo struct {
	repository.UserRepository
	createdUsers []model.User
	createErrs   []error
	incremented  int
}

func newMockRepo() *mockUserRepo {
	return &mockUserRepo{UserRepository: repository.NewMemoryRepository()}
}

func (m *mockUserRepo) Create(ctx context.Context, u *model.User) (*model.User, error) {
	m.createdUsers = append(m.createdUsers, *u)
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.UserRepository.Create(ctx, u)
}

func (m *mockUserRepo) IncrementTotalReferrals(ctx context.Context, id uuid.UUID, delta int64) error {
	m.incremented++
	return m.UserRepository.IncrementTotalReferrals(ctx, id, delta)
}

type harness struct {
	repo  *mockUserRepo
	codec *referral.TokenCodec
	auth  service.AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := newMockRepo()
	codec := referral.NewTokenCodec(referralSecret)
	m := metrics.New(prometheus.NewRegistry())
	logger := zap.NewNop().Sugar()
	gen := referral.NewCodeGenerator(repo, 5, referral.WithGeneratorMetrics(m))
	attrib := referral.NewAttributor(gen, repo, codec, m, logger)
	return &harness{
		repo:  repo,
		codec: codec,
		auth:  service.NewAuthService(repo, attrib, 5, jwtSecret, time.Hour, logger),
	}
}

func (h *harness) seedReferrer(t *testing.T, code string, total int64) *model.User {
	t.Helper()
	u, err := h.repo.UserRepository.Create(context.Background(), &model.User{
		Email:          "referrer@example.com",
		ReferralCode:   code,
		TotalReferrals: total,
	})
	require.NoError(t, err)
	return u
}

func TestRegister_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.auth.Register(ctx, service.RegisterInput{
		Email:    " Alice@Example.com ",
		Password: "password123",
		Lang:     model.Language_FA,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.True(t, referral.ValidCode(resp.ReferralCode))
	assert.False(t, resp.ReferredBy.Valid)
	assert.NotEmpty(t, resp.JwtToken)

	require.Len(t, h.repo.createdUsers, 1)
	created := h.repo.createdUsers[0]
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, model.Language_FA, created.Lang)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("password123")))

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(resp.JwtToken, claims, func(*jwt.Token) (interface{}, error) { return jwtSecret, nil })
	require.NoError(t, err)
	assert.Equal(t, resp.ID.String(), claims["sub"])
	assert.Equal(t, 0, h.repo.incremented)
}

func TestRegister_AttributesReferrer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.seedReferrer(t, "4821093", 2)
	token, err := h.codec.Encode(a.ID, "4821093")
	require.NoError(t, err)

	resp, err := h.auth.Register(ctx, service.RegisterInput{
		Email:            "b@example.com",
		Password:         "pw",
		AttributionToken: token,
	})
	require.NoError(t, err)
	assert.True(t, resp.ReferredBy.Valid)
	assert.Equal(t, a.ID, resp.ReferredBy.UUID)

	got, err := h.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalReferrals)
}

func TestRegister_DanglingReferrerStillSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, err := h.codec.Encode(uuid.New(), "4821093")
	require.NoError(t, err)

	resp, err := h.auth.Register(ctx, service.RegisterInput{
		Email:            "b@example.com",
		Password:         "pw",
		AttributionToken: token,
	})
	require.NoError(t, err)
	assert.False(t, resp.ReferredBy.Valid)
	assert.Equal(t, 0, h.repo.incremented)
}

func TestRegister_RetriesOnCodeConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.repo.createErrs = []error{repository.ErrReferralCodeTaken, repository.ErrReferralCodeTaken}

	resp, err := h.auth.Register(ctx, service.RegisterInput{Email: "b@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Len(t, h.repo.createdUsers, 3)
	assert.Equal(t, h.repo.createdUsers[2].ReferralCode, resp.ReferralCode)
}

func TestRegister_CodeConflictsExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.repo.createErrs = append(h.repo.createErrs, repository.ErrReferralCodeTaken)
	}

	_, err := h.auth.Register(ctx, service.RegisterInput{Email: "b@example.com", Password: "pw"})
	assert.ErrorIs(t, err, referral.ErrCodeSpaceExhausted)
	assert.Len(t, h.repo.createdUsers, 5)
}

func TestRegister_FailedCreateDoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.seedReferrer(t, "4821093", 2)
	token, err := h.codec.Encode(a.ID, "4821093")
	require.NoError(t, err)
	h.repo.createErrs = []error{errors.New("disk full")}

	_, err = h.auth.Register(ctx, service.RegisterInput{
		Email:            "b@example.com",
		Password:         "pw",
		AttributionToken: token,
	})
	assert.Error(t, err)
	assert.Equal(t, 0, h.repo.incremented)

	got, err := h.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalReferrals)
}

func TestRegister_EmailTaken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.auth.Register(ctx, service.RegisterInput{Email: "b@example.com", Password: "pw"})
	require.NoError(t, err)

	_, err = h.auth.Register(ctx, service.RegisterInput{Email: "B@example.com", Password: "pw"})
	assert.ErrorIs(t, err, repository.ErrEmailTaken)
}

func TestRegister_MissingEmailOrPassword(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.auth.Register(ctx, service.RegisterInput{Email: "", Password: ""})
	assert.ErrorIs(t, err, service.ErrMissingCredentials)

	_, err = h.auth.Register(ctx, service.RegisterInput{Email: "bob@example.com", Password: ""})
	assert.ErrorIs(t, err, service.ErrMissingCredentials)
	assert.Empty(t, h.repo.createdUsers)
}

func TestRegister_ConcurrentReferrals(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	a, err := repo.Create(ctx, &model.User{Email: "referrer@example.com", ReferralCode: "4821093"})
	require.NoError(t, err)

	codec := referral.NewTokenCodec(referralSecret)
	token, err := codec.Encode(a.ID, "4821093")
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	attrib := referral.NewAttributor(referral.NewCodeGenerator(repo, 0), repo, codec, nil, logger)
	auth := service.NewAuthService(repo, attrib, 0, jwtSecret, time.Hour, logger)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := auth.Register(ctx, service.RegisterInput{
				Email:            uuid.NewString() + "@example.com",
				Password:         "pw",
				AttributionToken: token,
			})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TotalReferrals)
}

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.auth.Register(ctx, service.RegisterInput{Email: "dana@example.com", Password: "mysecurepass"})
	require.NoError(t, err)

	resp, err := h.auth.Login(ctx, service.LoginInput{Email: "dana@example.com", Password: "mysecurepass"})
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.JwtToken)

	_, err = h.auth.Login(ctx, service.LoginInput{Email: "dana@example.com", Password: "wrongpass"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestLogin_UserNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), service.LoginInput{Email: "nobody@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestLogin_MissingFields(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), service.LoginInput{Email: "x@example.com"})
	assert.ErrorIs(t, err, service.ErrMissingCredentials)
}
