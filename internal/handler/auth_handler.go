package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
	"github.com/SinaHo/learning-platform-referrals/internal/service"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Lang     string `json:"lang"`
}

type registerResponse struct {
	ID           string `json:"id"`
	ReferralCode string `json:"referralCode"`
	JwtToken     string `json:"jwtToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	JwtToken string `json:"jwtToken"`
}

// AuthHandler serves account registration and login.
type AuthHandler struct {
	svc     service.AuthService
	cookies *AttributionCookies
	logger  *zap.SugaredLogger
}

func NewAuthHandler(svc service.AuthService, cookies *AttributionCookies, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cookies, logger: logger}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.Register(c.Request.Context(), service.RegisterInput{
		Email:            req.Email,
		Password:         req.Password,
		Lang:             model.ParseLanguage(req.Lang),
		AttributionToken: h.cookies.Read(c),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	// The attribution has been consumed.
	h.cookies.Clear(c)
	c.JSON(http.StatusCreated, registerResponse{
		ID:           res.ID.String(),
		ReferralCode: res.ReferralCode,
		JwtToken:     res.JwtToken,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.Login(c.Request.Context(), service.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{JwtToken: res.JwtToken})
}
