package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"voxchat-go/internal/middleware"
	"voxchat-go/internal/service"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责流式聊天：SSE 与 WebSocket 两种传输输出相同的 JSON 帧。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
	revoked     middleware.RevocationChecker
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager, revoked middleware.RevocationChecker) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
		revoked:     revoked,
	}
}

// SendMessage 以 SSE 流式返回回复。流中途失败时直接结束，不发送 [DONE]。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	conversationID := c.Param("id")
	seq, err := h.chatService.Stream(c.Request.Context(), currentUserID(c), conversationID, req)
	if err != nil {
		log.Warnf("SendMessage: conversation %s, error: %v", conversationID, err)
		fail(c, statusOf(err), err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for ev, err := range seq {
		if err != nil {
			log.Errorf("SendMessage: 流式响应中断, conversation: %s, error: %v", conversationID, err)
			return
		}
		if _, err := c.Writer.Write(ev.Frame()); err != nil {
			log.Warnf("SendMessage: 客户端已断开, conversation: %s", conversationID)
			return
		}
		c.Writer.Flush()
	}
}

// wsRequest 是 WebSocket 上的一条客户端消息；type 为 "stop" 时中断当前回复。
type wsRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	service.ChatRequest
}

// HandleWebsocket 处理 /chat/ws/:token 连接。每条消息触发一次回复，帧内容与 SSE 的 data 相同。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	claims, err := middleware.Authenticate(c.Request.Context(), h.jwtManager, h.revoked, c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		fail(c, http.StatusUnauthorized, "用户不存在")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	ctx, cancelConn := context.WithCancel(c.Request.Context())
	defer cancelConn()

	var (
		mu           sync.Mutex
		cancelStream context.CancelFunc
	)
	requests := make(chan wsRequest, 8)

	// 读循环：停止指令立即生效，其余消息排队依次处理
	go func() {
		defer close(requests)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				cancelConn()
				return
			}
			var req wsRequest
			if err := json.Unmarshal(message, &req); err != nil {
				req = wsRequest{Type: "invalid"}
			}
			if req.Type == "stop" {
				mu.Lock()
				if cancelStream != nil {
					cancelStream()
				}
				mu.Unlock()
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if req.Type == "invalid" {
			writeWSError(conn, "无效的消息格式")
			continue
		}
		streamCtx, cancel := context.WithCancel(ctx)
		mu.Lock()
		cancelStream = cancel
		mu.Unlock()
		h.streamOverWebsocket(streamCtx, conn, user.ID, req)
		cancel()
	}
}

func (h *ChatHandler) streamOverWebsocket(ctx context.Context, conn *websocket.Conn, userID uint, req wsRequest) {
	seq, err := h.chatService.Stream(ctx, userID, req.ConversationID, req.ChatRequest)
	if err != nil {
		writeWSError(conn, err.Error())
		return
	}
	for ev, err := range seq {
		if err != nil {
			log.Errorf("WebSocket 流式响应中断: %v", err)
			writeWSError(conn, "AI服务暂时不可用，请稍后重试")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, ev.Payload()); err != nil {
			log.Warnf("写入 WebSocket 失败: %v", err)
			return
		}
	}
}

func writeWSError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
