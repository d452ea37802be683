package mw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	actorKey     = "actor"
	roleKey      = "role"
	defaultActor = "admin"
	adminUserHdr = "X-Admin-User"
	bearerPrefix = "Bearer "
)

// Claims are the admin token claims. Tokens are issued elsewhere.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken parses an HS256 token signed with secret.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		},
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Actor resolves who is making the request. With a secret configured a bearer token is
// required on mutating requests and its email becomes the actor. Without one the
// X-Admin-User header is trusted, falling back to "admin".
func Actor(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			actor := strings.TrimSpace(c.GetHeader(adminUserHdr))
			if actor == "" {
				actor = defaultActor
			}
			c.Set(actorKey, actor)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			if c.Request.Method == http.MethodGet {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "missing bearer token"})
			return
		}

		claims, err := ValidateToken(strings.TrimPrefix(header, bearerPrefix), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "invalid or expired token"})
			return
		}
		actor := claims.Email
		if actor == "" {
			actor = claims.Subject
		}
		if actor == "" {
			actor = defaultActor
		}
		c.Set(actorKey, actor)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// ActorFrom returns the actor set by Actor, or "admin".
func ActorFrom(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultActor
}
