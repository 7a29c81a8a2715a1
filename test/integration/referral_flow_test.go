package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/SinaHo/learning-platform-referrals/internal/config"
	"github.com/SinaHo/learning-platform-referrals/internal/server"
	"github.com/SinaHo/learning-platform-referrals/internal/service"
)

// startServer boots the full app against the Postgres named by POSTGRES_*
// env overrides, on a freshly created users table.
func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	if os.Getenv("INTEGRATION_POSTGRES") == "" {
		t.Skip("set INTEGRATION_POSTGRES=1 and POSTGRES_* to run against a real database")
	}

	cfg, err := config.LoadConfig("../../internal/config")
	require.NoError(t, err)
	cfg.Database.Driver = config.DriverPostgres
	cfg.Redis.Enabled = false

	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN())
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE IF EXISTS users;`)
	require.NoError(t, err)
	db.Close()

	app, err := server.NewAppServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.HTTP.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = app.GracefulStop(context.Background())
	})
	return srv
}

// browser keeps cookies across requests and does not follow redirects.
func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type registered struct {
	ID           string `json:"id"`
	ReferralCode string `json:"referralCode"`
	JwtToken     string `json:"jwtToken"`
}

func register(t *testing.T, c *http.Client, base, email string) registered {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": "password123", "lang": "en"})
	resp, err := c.Post(base+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out registered
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func stats(t *testing.T, base, jwtToken string) service.ReferralStats {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, base+"/api/v1/referrals/stats", nil)
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out service.ReferralStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestIntegration_ReferralFlow(t *testing.T) {
	srv := startServer(t)

	a := register(t, browser(t), srv.URL, "alice@example.com")
	require.Len(t, a.ReferralCode, 7)

	// Bob follows Alice's link, then signs up in the same browser.
	bob := browser(t)
	resp, err := bob.Get(srv.URL + "/r/" + a.ReferralCode)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A second visit keeps the first attribution.
	resp, err = bob.Get(srv.URL + "/r/" + a.ReferralCode)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	b := register(t, bob, srv.URL, "bob@example.com")

	aStats := stats(t, srv.URL, a.JwtToken)
	assert.Equal(t, int64(1), aStats.TotalReferrals)
	require.Len(t, aStats.ReferredUsers, 1)
	assert.Equal(t, "bob@example.com", aStats.ReferredUsers[0].Email)

	bStats := stats(t, srv.URL, b.JwtToken)
	require.NotNil(t, bStats.ReferredBy)
	assert.Equal(t, a.ID, bStats.ReferredBy.ID.String())

	// The cookie was consumed: Carol signing up next in Bob's browser is
	// not attributed.
	register(t, bob, srv.URL, "carol@example.com")
	assert.Equal(t, int64(1), stats(t, srv.URL, a.JwtToken).TotalReferrals)
}

func TestIntegration_UnknownCodeRedirectsHome(t *testing.T) {
	srv := startServer(t)

	resp, err := browser(t).Get(srv.URL + "/r/1234567")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
}

func TestIntegration_ConcurrentReferrals(t *testing.T) {
	srv := startServer(t)
	a := register(t, browser(t), srv.URL, "alice@example.com")

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := browser(t)
			resp, err := c.Get(srv.URL + "/r/" + a.ReferralCode)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			body, _ := json.Marshal(map[string]string{"email": fmt.Sprintf("user%d@example.com", i), "password": "pw"})
			resp, err = c.Post(srv.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			assert.Equal(t, http.StatusCreated, resp.StatusCode)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n), stats(t, srv.URL, a.JwtToken).TotalReferrals)
}
