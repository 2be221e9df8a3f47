package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Seconds 是宽松解析的秒数：接受数字或数字字符串，其他值视为缺失。
type Seconds struct {
	Value float64
	Valid bool
}

// SecondsOf 构造一个有效的秒数。
func SecondsOf(v float64) Seconds {
	return Seconds{Value: v, Valid: true}
}

// Ptr 返回可空形式。
func (s Seconds) Ptr() *float64 {
	if !s.Valid {
		return nil
	}
	v := s.Value
	return &v
}

// MarshalJSON 实现 json.Marshaler 接口。
func (s Seconds) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON 实现 json.Unmarshaler 接口。
func (s *Seconds) UnmarshalJSON(data []byte) error {
	*s = Seconds{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			*s = SecondsOf(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err == nil {
		*s = SecondsOf(v)
	}
	return nil
}

// RawTranscriptEntry 是未规范化的转写条目。
// 上游拉取接口使用 {role: agent|user, text|message, time_in_call_secs}，
// 客户端兜底数据使用 {role: assistant|user, message, timestamp}；
// 已规范化的 {role, msg, date} 也能被读回。
type RawTranscriptEntry struct {
	Role           string  `json:"role"`
	Text           string  `json:"text,omitempty"`
	Message        string  `json:"message,omitempty"`
	Msg            string  `json:"msg,omitempty"`
	TimeInCallSecs Seconds `json:"time_in_call_secs"`
	Timestamp      Seconds `json:"timestamp"`
	Date           Seconds `json:"date"`
}
