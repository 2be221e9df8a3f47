// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"net/http"
	"strings"
	"voxchat-go/internal/model"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// 上下文中保存认证信息的键。
const (
	ContextUser   = "user"
	ContextUserID = "userID"
	ContextClaims = "claims"
	ContextToken  = "token"
)

// UserLookup 根据用户名加载用户。
type UserLookup interface {
	GetProfile(username string) (*model.User, error)
}

// RevocationChecker 判断 token 是否已注销。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性与是否已注销，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, users UserLookup, revoked RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "请求未包含授权头")
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c, "无效的授权头格式")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := Authenticate(c.Request.Context(), jwtManager, revoked, tokenString)
		if err != nil {
			log.Warnf("AuthMiddleware: token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			abortUnauthorized(c, "无效或已过期的 token")
			return
		}

		// 用户可能已被删除
		user, err := users.GetProfile(claims.Username)
		if err != nil {
			abortUnauthorized(c, "用户不存在")
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextClaims, claims)
		c.Set(ContextToken, tokenString)
		c.Next()
	}
}

// Authenticate 校验 access token 并检查黑名单。WebSocket 等无法携带请求头的入口也复用它。
func Authenticate(ctx context.Context, jwtManager *token.JWTManager, revoked RevocationChecker, tokenString string) (*token.CustomClaims, error) {
	claims, err := jwtManager.VerifyTokenOfType(tokenString, token.TypeAccess)
	if err != nil {
		return nil, err
	}
	if revoked != nil {
		isRevoked, err := revoked.IsRevoked(ctx, tokenString)
		if err != nil {
			return nil, err
		}
		if isRevoked {
			return nil, errRevoked
		}
	}
	return claims, nil
}

type authError string

func (e authError) Error() string { return string(e) }

const errRevoked = authError("token has been revoked")

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
		"data":    nil,
	})
}
