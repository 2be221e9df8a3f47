package handler

import (
	"net/http"
	"voxchat-go/internal/service"
	"voxchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// ListConversations 返回当前用户的会话列表。
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.service.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		log.Errorf("ListConversations: %v", err)
		fail(c, http.StatusInternalServerError, "Failed to retrieve conversations")
		return
	}
	success(c, list)
}

// CreateConversationRequest 是创建会话的请求体，取第一条消息作为初始历史。
type CreateConversationRequest struct {
	Messages []service.ChatMessage `json:"messages"`
}

// CreateConversation 以第一条消息创建会话。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		fail(c, http.StatusBadRequest, "messages 不能为空")
		return
	}
	conv, err := h.service.Create(c.Request.Context(), currentUserID(c), req.Messages[0].Content)
	if err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, conv)
}

// GetConversation 返回会话详情及其语音记录。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		fail(c, statusOf(err), "Conversation not found")
		return
	}
	success(c, detail)
}

// RenameRequest 是修改标题的请求体。
type RenameRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation 修改会话标题。
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "title 不能为空")
		return
	}
	conv, err := h.service.Rename(c.Request.Context(), currentUserID(c), c.Param("id"), req.Title)
	if err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, conv.Summary())
}

// DeleteConversation 删除会话及其语音记录。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, nil)
}

// TTSRequest 是生成合成语音的请求体。
type TTSRequest struct {
	Text    string `json:"text" binding:"required"`
	VoiceID string `json:"voice_id"`
}

// AddTTS 为会话生成一段合成语音。
func (h *ConversationHandler) AddTTS(c *gin.Context) {
	var req TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text 不能为空")
		return
	}
	session, err := h.service.AddTTS(c.Request.Context(), currentUserID(c), c.Param("id"), req.Text, req.VoiceID)
	if err != nil {
		log.Errorf("AddTTS: conversation %s, error: %v", c.Param("id"), err)
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, session)
}

// DeleteTTS 删除会话下的一段合成语音。
func (h *ConversationHandler) DeleteTTS(c *gin.Context) {
	if err := h.service.DeleteTTS(c.Request.Context(), currentUserID(c), c.Param("id"), c.Param("audioId")); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, nil)
}
