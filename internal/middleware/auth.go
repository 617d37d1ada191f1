package middleware

import (
	"fmt"
	"strings"

	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
	RoleUser    = "user"

	contextUserID = "user_id"
	contextRole   = "role"
)

// Claims is the token payload. Tokens are issued elsewhere; the subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")

		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on websocket upgrades.
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			response.ResponseError(c, fmt.Errorf("%w: authorization required", apperror.ErrUnauthorized))
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			response.ResponseError(c, fmt.Errorf("%w: invalid or expired token", apperror.ErrUnauthorized))
			return
		}

		if claims.Subject == "" {
			response.ResponseError(c, fmt.Errorf("%w: invalid token claims", apperror.ErrUnauthorized))
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleUser
		}
		c.Set(contextUserID, claims.Subject)
		c.Set(contextRole, role)
		c.Next()
	}
}

// RequireRole lets the request through when the caller holds one of roles.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasRole(c.GetString(contextRole), roles) {
			response.ResponseError(c, fmt.Errorf("%w: insufficient role", apperror.ErrForbidden))
			return
		}
		c.Next()
	}
}

// RequireSelfOrPrivileged restricts user-scoped routes to the user named by the
// param, admins and internal services.
func (m *AuthMiddleware) RequireSelfOrPrivileged(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(contextRole)
		if hasRole(role, []string{RoleAdmin, RoleService}) || c.Param(param) == c.GetString(contextUserID) {
			c.Next()
			return
		}
		response.ResponseError(c, fmt.Errorf("%w: access to another user's data is not allowed", apperror.ErrForbidden))
	}
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}
