// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "voxchat-go/internal/model"

// VoiceSessionTask represents a completed voice call waiting to be reconciled.
type VoiceSessionTask struct {
	SessionID         string `json:"session_id"`
	UserID            uint   `json:"user_id"`
	AppConversationID string `json:"app_conversation_id,omitempty"`
	// FallbackTranscript is used only when the provider transcript cannot be fetched.
	FallbackTranscript []model.RawTranscriptEntry `json:"fallback_transcript,omitempty"`
}
