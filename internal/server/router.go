package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/handler"
	"github.com/SinaHo/learning-platform-referrals/internal/middleware"
)

// Routes bundles what NewRouter mounts.
type Routes struct {
	Auth      *handler.AuthHandler
	Referrals *handler.ReferralHandler
	Metrics   http.Handler
	JWTSecret string
}

func NewRouter(logger *zap.SugaredLogger, r Routes) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if r.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.Metrics))
	}

	engine.GET("/r/:code", r.Referrals.Visit)

	api := engine.Group("/api/v1")
	auth := api.Group("/auth")
	auth.POST("/register", r.Auth.Register)
	auth.POST("/login", r.Auth.Login)

	refs := api.Group("/referrals", middleware.Auth(logger, r.JWTSecret))
	refs.GET("/stats", r.Referrals.Stats)
	refs.GET("/link", r.Referrals.Link)
	refs.POST("/reconcile", r.Referrals.Reconcile)

	return engine
}
