package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Speaker 是规范转写条目的说话方。
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry 是规范化后的转写条目，与上游来源无关。
// ID 沿用存储约定：1 表示 agent，0 表示 user。
type TranscriptEntry struct {
	ID      int      `json:"id"`
	Speaker Speaker  `json:"role"`
	Text    string   `json:"msg"`
	Offset  *float64 `json:"date"`
}

// VoiceSession 对应于数据库中的 'voice_sessions' 表，每次完成的语音通话生成一条。
// AudioURL 与 Transcript 可以独立、乱序地填充。
type VoiceSession struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         uint           `gorm:"index;not null" json:"userId"`
	SessionID      string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"sessionId"`
	ConversationID *string        `gorm:"type:varchar(64);index" json:"conversationId"`
	AudioURL       *string        `gorm:"type:text" json:"audioUrl"`
	Transcript     datatypes.JSON `gorm:"type:json" json:"transcript"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (VoiceSession) TableName() string {
	return "voice_sessions"
}

// SetTranscript 将规范转写写入 JSON 列。
func (v *VoiceSession) SetTranscript(entries []TranscriptEntry) error {
	if entries == nil {
		entries = []TranscriptEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	v.Transcript = datatypes.JSON(b)
	return nil
}

// Entries 解码 JSON 列中的规范转写。
func (v *VoiceSession) Entries() ([]TranscriptEntry, error) {
	if len(v.Transcript) == 0 {
		return []TranscriptEntry{}, nil
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal(v.Transcript, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// IsComplete 判断音频与转写是否都已就绪。
func (v *VoiceSession) IsComplete() bool {
	if v.AudioURL == nil || *v.AudioURL == "" {
		return false
	}
	entries, err := v.Entries()
	return err == nil && len(entries) > 0
}

// SessionRegistration 记录服务商会话 id 与应用用户、应用会话的对应关系，
// 使推送通知在没有用户上下文时也能触发对账。
type SessionRegistration struct {
	SessionID         string    `json:"sessionId"`
	UserID            uint      `json:"userId"`
	AppConversationID string    `json:"appConversationId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
