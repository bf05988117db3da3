package middleware

import (
	"strings"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/auth"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
	ContextRoleKey     = "role"
)

// JWTAuth 必须携带有效的 Bearer 令牌
func JWTAuth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if !present {
			common.RespondErrAbort(c, errs.Unauthenticated("authorization header is required"))
			return
		}
		if err := authenticate(c, jwtService, token); err != nil {
			common.RespondErrAbort(c, err)
			return
		}
		c.Next()
	}
}

// OptionalJWTAuth 没有令牌时按匿名访问；携带了令牌则必须有效
func OptionalJWTAuth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if present {
			if err := authenticate(c, jwtService, token); err != nil {
				common.RespondErrAbort(c, err)
				return
			}
		}
		c.Next()
	}
}

// GetUserID 已认证时返回用户 id
func GetUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func authenticate(c *gin.Context, jwtService *auth.JWTService, token string) error {
	if token == "" {
		return errs.Unauthenticated("unsupported authorization scheme")
	}
	if jwtService == nil {
		return errs.New(errs.KindInternal, "authentication is not configured")
	}
	claims, err := jwtService.ExtractClaims(token)
	if err != nil {
		return errs.Unauthenticated("invalid or expired token")
	}

	c.Set(ContextUserIDKey, claims.UserID)
	c.Set(ContextUsernameKey, claims.Username)
	c.Set(ContextRoleKey, claims.Role)
	return nil
}
