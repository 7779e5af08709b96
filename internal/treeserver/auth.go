package treeserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxUID = "uid"

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Status: "error", Code: code, Message: message})
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// signIn issues a fresh anonymous identity.
func (s *Server) signIn(c *gin.Context) {
	uid := uuid.NewString()
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       uid,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"anonymous": true,
	})
	signed, err := token.SignedString(s.cfg.JWTSecret)
	if err != nil {
		abortWith(c, http.StatusInternalServerError, "TOKEN_ERROR", "could not sign token")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: signed, UID: uid, ExpiresAt: exp})
}

// authRequired accepts "Authorization: Bearer <jwt>" and stores the subject.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Split(c.GetHeader("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return s.cfg.JWTSecret, nil
		}, jwt.WithTimeFunc(s.now))
		if err != nil || !token.Valid {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token claims")
			return
		}
		uid, ok := claims["sub"].(string)
		if !ok || uid == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject")
			return
		}

		c.Set(ctxUID, uid)
		c.Next()
	}
}
