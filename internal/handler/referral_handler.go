package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/middleware"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
	"github.com/SinaHo/learning-platform-referrals/internal/service"
)

type visitResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirectUrl"`
}

type reconcileResponse struct {
	TotalReferrals int64 `json:"totalReferrals"`
}

// ReferralHandler serves referral link visits and the referral views of the
// authenticated account.
type ReferralHandler struct {
	svc       service.ReferralService
	cookies   *AttributionCookies
	signupURL string
	homeURL   string
	logger    *zap.SugaredLogger
}

func NewReferralHandler(
	svc service.ReferralService,
	cookies *AttributionCookies,
	signupURL, homeURL string,
	logger *zap.SugaredLogger,
) *ReferralHandler {
	return &ReferralHandler{
		svc:       svc,
		cookies:   cookies,
		signupURL: signupURL,
		homeURL:   homeURL,
		logger:    logger,
	}
}

// Visit handles GET /r/:code. Unknown codes, repeat visits and lookup
// failures all end in a redirect home; none of them surface as errors.
func (h *ReferralHandler) Visit(c *gin.Context) {
	res, err := h.svc.Visit(c.Request.Context(), c.Param("code"), h.cookies.Read(c))
	if err != nil {
		if !errors.Is(err, referral.ErrNotFound) && !errors.Is(err, referral.ErrInvalidCode) {
			h.logger.Warnw("referral visit failed", "code", c.Param("code"), "error", err)
		}
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}
	if !res.Issued {
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}

	h.cookies.Set(c, res.Token)
	c.JSON(http.StatusOK, visitResponse{Success: true, RedirectURL: h.signupURL})
}

func (h *ReferralHandler) Stats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthenticated.Error()})
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReferralHandler) Link(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthenticated.Error()})
		return
	}
	link, err := h.svc.Link(c.Request.Context(), userID, c.Query("email"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *ReferralHandler) Reconcile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.ErrUnauthenticated.Error()})
		return
	}
	total, err := h.svc.Reconcile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reconcileResponse{TotalReferrals: total})
}
