package pipeline

import (
	"strings"
	"voxchat-go/internal/model"
	"voxchat-go/pkg/elevenlabs"
)

// NormalizeTranscript 把不同来源的转写统一为规范条目。
// agent/assistant 映射为 agent，其余映射为 user；文本为空的条目被丢弃。
func NormalizeTranscript(raw []model.RawTranscriptEntry) []model.TranscriptEntry {
	out := make([]model.TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		text := firstNonEmpty(item.Text, item.Message, item.Msg)
		if strings.TrimSpace(text) == "" {
			continue
		}
		entry := model.TranscriptEntry{ID: 0, Speaker: model.SpeakerUser, Text: text}
		switch strings.ToLower(strings.TrimSpace(item.Role)) {
		case "agent", "assistant":
			entry.ID = 1
			entry.Speaker = model.SpeakerAgent
		}
		entry.Offset = firstValid(item.TimeInCallSecs, item.Timestamp, item.Date).Ptr()
		out = append(out, entry)
	}
	return out
}

// FromProvider 把服务商的转写转换为原始条目。
func FromProvider(items []elevenlabs.TranscriptItem) []model.RawTranscriptEntry {
	raw := make([]model.RawTranscriptEntry, 0, len(items))
	for _, it := range items {
		entry := model.RawTranscriptEntry{Role: it.Role, Text: it.Text, Message: it.Message}
		if it.TimeInCallSecs != nil {
			entry.TimeInCallSecs = model.SecondsOf(*it.TimeInCallSecs)
		}
		raw = append(raw, entry)
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstValid(values ...model.Seconds) model.Seconds {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return model.Seconds{}
}
