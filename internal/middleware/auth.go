package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// ErrUnauthenticated is returned when no or invalid token is provided.
var ErrUnauthenticated = errors.New("unauthenticated")

// Auth returns a middleware that requires a valid bearer JWT and stores the
// caller's account id in the gin context.
func Auth(logger *zap.SugaredLogger, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			logger.Warn("No authorization header provided")
			abortUnauthenticated(c)
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			logger.Warn("Empty bearer token")
			abortUnauthenticated(c)
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			logger.Warnw("Invalid token", "error", err)
			abortUnauthenticated(c)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		sub, _ := claims["sub"].(string)
		id, err := uuid.Parse(sub)
		if err != nil {
			logger.Warnw("Token subject is not an account id", "sub", sub)
			abortUnauthenticated(c)
			return
		}

		c.Set(userIDKey, id)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated.Error()})
}

// UserID returns the account id stored by Auth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
