package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SinaHo/learning-platform-referrals/internal/referral"
)

const AttributionCookieName = "referral_attribution"

// AttributionCookies reads and writes the referral attribution cookie.
type AttributionCookies struct {
	name   string
	secure bool
}

func NewAttributionCookies(secure bool) *AttributionCookies {
	return &AttributionCookies{name: AttributionCookieName, secure: secure}
}

func (m *AttributionCookies) Read(c *gin.Context) string {
	token, err := c.Cookie(m.name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

func (m *AttributionCookies) Set(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.name, token, int(referral.TokenLifetime.Seconds()), "/", "", m.secure, true)
}

func (m *AttributionCookies) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.name, "", -1, "/", "", m.secure, true)
}
