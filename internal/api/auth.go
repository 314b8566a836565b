package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tradesim/pkg/exception"
)

const ownerKey = "owner"

// Authenticator resolves a bearer token to the owner id it was issued for.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Claims is the token payload. Tokens are issued elsewhere.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (a *JWTAuthenticator) Authenticate(token string) (string, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", exception.ErrUnauthenticated, err)
	}

	owner := claims.UserID
	if owner == "" {
		owner = claims.Subject
	}
	if owner == "" {
		return "", fmt.Errorf("%w: token has no user", exception.ErrUnauthenticated)
	}
	return owner, nil
}

func requireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Error: "access token required"})
			return
		}

		owner, err := auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Error: "invalid token"})
			return
		}

		c.Set(ownerKey, owner)
		c.Next()
	}
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}
