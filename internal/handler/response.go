// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"voxchat-go/internal/middleware"
	"voxchat-go/internal/model"
	"voxchat-go/internal/service"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    nil,
	})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrConversationNotFound), errors.Is(err, service.ErrVoiceSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMissingSessionID),
		errors.Is(err, service.ErrMissingConversationID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// currentUserID 读取 AuthMiddleware 注入的用户 ID。
func currentUserID(c *gin.Context) uint {
	return c.GetUint(middleware.ContextUserID)
}
