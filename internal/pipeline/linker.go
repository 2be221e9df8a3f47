package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
	"voxchat-go/internal/model"
	"voxchat-go/internal/repository"
	"voxchat-go/pkg/log"
)

// ConversationStore 是链接器需要的会话存储能力。
type ConversationStore interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Create(ctx context.Context, conv *model.Conversation) error
}

// Linker 保证语音会话引用的会话在写入前已经存在。
type Linker struct {
	store ConversationStore
}

// NewLinker 创建链接器。
func NewLinker(store ConversationStore) *Linker {
	return &Linker{store: store}
}

// Ensure 在会话不存在时以空历史和给定标题创建它；已存在时什么都不做，也不会改写标题。
// 会话属于其他用户时返回 model.ErrConversationNotFound。created 报告本次调用是否创建了会话。
func (l *Linker) Ensure(ctx context.Context, conversationID string, userID uint, title string) (bool, error) {
	conv, err := l.store.Get(ctx, conversationID)
	if err == nil {
		return false, checkOwner(conv, userID)
	}
	if !errors.Is(err, model.ErrConversationNotFound) {
		return false, fmt.Errorf("查询会话失败: %w", err)
	}

	now := time.Now()
	conv = &model.Conversation{
		ID:        conversationID,
		UserID:    userID,
		Title:     title,
		History:   model.History{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, conv); err != nil {
		// 并发创建时对方已经写入，视为已存在，但仍需确认归属
		if errors.Is(err, repository.ErrConversationExists) {
			existing, getErr := l.store.Get(ctx, conversationID)
			if getErr != nil {
				return false, fmt.Errorf("查询会话失败: %w", getErr)
			}
			return false, checkOwner(existing, userID)
		}
		return false, fmt.Errorf("创建会话失败: %w", err)
	}
	log.Infof("[Linker] 会话 %s 不存在，已自动创建，标题: %s", conversationID, title)
	return true, nil
}

func checkOwner(conv *model.Conversation, userID uint) error {
	if conv.UserID != userID {
		log.Warnf("[Linker] 会话 %s 不属于用户 %d，拒绝链接", conv.ID, userID)
		return model.ErrConversationNotFound
	}
	return nil
}

// VoiceTitle 由第一条转写文本截断得到标题；没有转写时使用带时间的通用标题。
func VoiceTitle(entries []model.TranscriptEntry, maxLen int, now time.Time) string {
	if len(entries) > 0 {
		return TruncateTitle(entries[0].Text, maxLen)
	}
	return "Conversación - " + now.Format("15:04")
}

// TruncateTitle 按字符数截断标题，超长时追加 "..."。
func TruncateTitle(text string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLen]) + "..."
}
