// Package auth validates platform-issued JWTs and enforces per-route
// permission gates. Token issuance belongs to the identity service; this
// package only consumes claims.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey      = "user_id"
	permissionsKey = "permissions"
)

// Permissions understood by this service.
const (
	PermChangeRead    = "change_read"
	PermChangeWrite   = "change_write"
	PermChangeApprove = "change_approve"
)

// Claims is the JWT payload issued by the platform identity service.
type Claims struct {
	UserID      string   `json:"uid"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// JWTAuth parses and validates the Bearer token, storing the user ID and
// permissions in the request context.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(permissionsKey, claims.Permissions)
		c.Next()
	}
}

// RequirePermission gates a route on a single permission claim.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get(permissionsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no permissions found"})
			return
		}
		perms, ok := raw.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no permissions found"})
			return
		}
		for _, p := range perms {
			if p == permission {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied: " + permission})
	}
}

// UserID returns the authenticated user's ID, or empty string for
// unauthenticated contexts.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
