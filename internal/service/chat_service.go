package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
	"voxchat-go/internal/model"
	"voxchat-go/internal/orchestrator"
	"voxchat-go/internal/pipeline"
	"voxchat-go/internal/repository"
	"voxchat-go/pkg/log"

	"github.com/sethvargo/go-retry"
)

// casAttempts 是追加历史时遇到版本冲突的最大尝试次数。
const casAttempts = 3

// ErrMissingConversationID 表示持久会话请求没有会话 id。
var ErrMissingConversationID = errors.New("conversation id is required")

// ChatMessage 是客户端提交的一条消息。
type ChatMessage struct {
	Role    model.Role    `json:"role"`
	Content model.Content `json:"content"`
}

// ChatRequest 是发送消息接口的请求体。
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	IsTemporary bool          `json:"is_temporary"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Stream 校验请求并返回事件序列。持久会话在返回前已写入用户消息，
	// 助手回复在序列产出 EventDone 之前写入。
	Stream(ctx context.Context, userID uint, conversationID string, req ChatRequest) (iter.Seq2[orchestrator.Event, error], error)
}

type chatService struct {
	orchestrator  *orchestrator.Orchestrator
	conversations repository.ConversationRepository
	titleMaxLen   int
	retryDelay    time.Duration
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(orch *orchestrator.Orchestrator, conversations repository.ConversationRepository, titleMaxLen int) ChatService {
	return &chatService{
		orchestrator:  orch,
		conversations: conversations,
		titleMaxLen:   titleMaxLen,
		retryDelay:    20 * time.Millisecond,
	}
}

// Stream 实现 ChatService 接口。
func (s *chatService) Stream(ctx context.Context, userID uint, conversationID string, req ChatRequest) (iter.Seq2[orchestrator.Event, error], error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessage
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != model.RoleUser || isBlank(last.Content) {
		return nil, ErrEmptyMessage
	}

	// 1. 临时会话：直接使用客户端提供的上下文，不落库
	if req.IsTemporary {
		return s.orchestrator.Stream(ctx, req.Model, toTurns(req.Messages)), nil
	}

	// 2. 持久会话：先写入用户消息，再以存储中的历史作为上下文
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversationID
	}
	userTurn := model.UserTurn{Content: last.Content, Timestamp: time.Now()}
	conv, err := s.appendUserTurn(ctx, userID, conversationID, userTurn)
	if err != nil {
		return nil, err
	}
	turns := []model.Turn(conv.History)

	return func(yield func(orchestrator.Event, error) bool) {
		var answer strings.Builder
		toolUsed := false
		for ev, err := range s.orchestrator.Stream(ctx, req.Model, turns) {
			if err != nil {
				log.Errorf("[ChatService] 会话 %s 流式生成失败: %v", conversationID, err)
				yield(ev, err)
				return
			}
			switch ev.Kind {
			case orchestrator.EventContent:
				answer.WriteString(ev.Content)
			case orchestrator.EventToolUsed:
				toolUsed = true
			case orchestrator.EventDone:
				// 使用后台上下文，即使请求已取消也保存已生成的回答
				reply := model.AssistantTurn{Content: answer.String(), ToolUsed: toolUsed, Timestamp: time.Now()}
				if _, err := s.appendTurns(context.Background(), userID, conversationID, reply); err != nil {
					log.Errorf("[ChatService] 保存助手回复失败, conversation: %s, error: %v", conversationID, err)
				}
			}
			if !yield(ev, nil) {
				return
			}
		}
	}, nil
}

// appendUserTurn 追加用户消息；会话尚不存在时以该消息创建会话。
func (s *chatService) appendUserTurn(ctx context.Context, userID uint, conversationID string, turn model.UserTurn) (*model.Conversation, error) {
	conv, err := s.appendTurns(ctx, userID, conversationID, turn)
	if !errors.Is(err, model.ErrConversationNotFound) {
		return conv, err
	}
	if _, getErr := s.conversations.Get(ctx, conversationID); getErr == nil {
		// 会话存在但属于其他用户
		return nil, err
	}

	now := time.Now()
	conv = &model.Conversation{
		ID:        conversationID,
		UserID:    userID,
		Title:     pipeline.TruncateTitle(turn.Content.FirstText(), s.titleMaxLen),
		History:   model.History{turn},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.conversations.Create(ctx, conv)
	if errors.Is(err, repository.ErrConversationExists) {
		return s.appendTurns(ctx, userID, conversationID, turn)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[ChatService] 会话 %s 不存在，已自动创建", conversationID)
	return conv, nil
}

// appendTurns 以比较并交换的方式追加轮次，版本冲突时有限次重试。
func (s *chatService) appendTurns(ctx context.Context, userID uint, conversationID string, turns ...model.Turn) (*model.Conversation, error) {
	var updated *model.Conversation
	backoff := retry.WithMaxRetries(casAttempts-1, retry.NewConstant(s.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conv, err := s.conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.UserID != userID {
			return model.ErrConversationNotFound
		}
		history := make(model.History, 0, len(conv.History)+len(turns))
		history = append(history, conv.History...)
		history = append(history, turns...)
		updated, err = s.conversations.ReplaceHistory(ctx, conversationID, conv.Version, history)
		if errors.Is(err, repository.ErrVersionConflict) {
			log.Warnf("[ChatService] 会话 %s 版本冲突，重试", conversationID)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("更新会话历史失败: %w", err)
	}
	return updated, nil
}

func toTurns(messages []ChatMessage) []model.Turn {
	turns := make([]model.Turn, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			turns = append(turns, model.SystemTurn{Content: m.Content.PlainText()})
		case model.RoleAssistant:
			turns = append(turns, model.AssistantTurn{Content: m.Content.PlainText()})
		case model.RoleUser:
			turns = append(turns, model.UserTurn{Content: m.Content})
		}
	}
	return turns
}

func isBlank(c model.Content) bool {
	if c.IsStructured() {
		for _, p := range c.Parts {
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				return false
			}
		}
	}
	return strings.TrimSpace(c.PlainText()) == ""
}
