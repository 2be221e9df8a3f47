package handler

import (
	"bytes"
	"io"
	"net/http"
	"voxchat-go/internal/service"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/webhook"

	"github.com/gin-gonic/gin"
)

const (
	// SignatureHeader 是推送通知携带签名的请求头。
	SignatureHeader = "ElevenLabs-Signature"
	// maxWebhookBody 是推送请求体的大小上限。
	maxWebhookBody = 50 << 20
)

// VoiceHandler 处理语音会话相关的请求。
type VoiceHandler struct {
	voiceService service.VoiceService
	verifier     *webhook.Verifier
}

// NewVoiceHandler 创建一个新的 VoiceHandler。
func NewVoiceHandler(voiceService service.VoiceService, verifier *webhook.Verifier) *VoiceHandler {
	return &VoiceHandler{voiceService: voiceService, verifier: verifier}
}

// RegisterSessionRequest 是登记语音会话的请求体。
type RegisterSessionRequest struct {
	SessionID         string `json:"conversation_id" binding:"required"`
	AppConversationID string `json:"app_conversation_id"`
}

// RegisterSession 登记服务商会话 id，使后续推送能够触发异步对账。
func (h *VoiceHandler) RegisterSession(c *gin.Context) {
	var req RegisterSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "conversation_id 不能为空")
		return
	}
	if err := h.voiceService.RegisterSession(c.Request.Context(), currentUserID(c), req.SessionID, req.AppConversationID); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, gin.H{"status": "registered"})
}

// ProcessSession 同步对账一次语音会话。
func (h *VoiceHandler) ProcessSession(c *gin.Context) {
	var req service.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	res, err := h.voiceService.ProcessSession(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		log.Errorf("ProcessSession: session %s, error: %v", req.SessionID, err)
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, gin.H{
		"status":               "success",
		"id":                   res.Session.ID,
		"audio_url":            res.Session.AudioURL,
		"message_count":        res.MessageCount,
		"conversation_created": res.ConversationCreated,
	})
}

// Webhook 接收服务商推送的录音（multipart: audio + conversation_id）。
// 签名在解析表单之前基于原始请求体校验，校验失败不做任何处理。
func (h *VoiceHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, "读取请求体失败")
		return
	}
	if err := h.verifier.Verify(body, c.GetHeader(SignatureHeader)); err != nil {
		log.Warnf("Webhook: 签名校验失败: %v", err)
		fail(c, http.StatusUnauthorized, "invalid signature")
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	sessionID := c.PostForm("conversation_id")
	if sessionID == "" {
		fail(c, http.StatusBadRequest, "conversation_id 不能为空")
		return
	}
	var audio []byte
	if fh, err := c.FormFile("audio"); err == nil {
		f, err := fh.Open()
		if err != nil {
			fail(c, http.StatusBadRequest, "读取音频失败")
			return
		}
		audio, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			fail(c, http.StatusBadRequest, "读取音频失败")
			return
		}
	}

	if err := h.voiceService.HandleWebhook(c.Request.Context(), sessionID, audio); err != nil {
		log.Errorf("Webhook: session %s, error: %v", sessionID, err)
		fail(c, statusOf(err), err.Error())
		return
	}
	success(c, gin.H{"status": "received", "conversation_id": sessionID})
}

// ListVoices 返回可用音色。
func (h *VoiceHandler) ListVoices(c *gin.Context) {
	voices, err := h.voiceService.ListVoices(c.Request.Context())
	if err != nil {
		log.Errorf("ListVoices: %v", err)
		fail(c, http.StatusBadGateway, "获取音色列表失败")
		return
	}
	success(c, voices)
}

// Synthesize 返回合成的 MP3 音频。
func (h *VoiceHandler) Synthesize(c *gin.Context) {
	var req TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text 不能为空")
		return
	}
	audio, err := h.voiceService.Synthesize(c.Request.Context(), req.Text, req.VoiceID)
	if err != nil {
		log.Errorf("Synthesize: %v", err)
		fail(c, statusOf(err), err.Error())
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}
