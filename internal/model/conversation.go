// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"time"
)

// ErrConversationNotFound 表示会话不存在（或不属于当前用户）。
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation 是存储在 Redis 中的一段会话，独占其历史序列。
// Version 是乐观并发控制令牌，每次替换历史时递增。
type Conversation struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"userId"`
	Title     string    `json:"title"`
	History   History   `json:"history"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary 是会话列表中使用的精简信息。
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary 返回会话的精简信息。
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

// ConversationDetail 是会话详情接口的返回结构，附带关联的语音会话。
type ConversationDetail struct {
	*Conversation
	VoiceSessions []VoiceSession `json:"voiceSessions"`
}
