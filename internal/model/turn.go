package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role 是对话轮次的角色标签。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn 是对话历史中的一个轮次。具体类型只有 SystemTurn、UserTurn、AssistantTurn 与 ToolTurn，
// 每种类型只携带该角色合法的字段。
type Turn interface {
	Role() Role
	isTurn()
}

// ToolCall 是模型在一次回复中请求的一次工具调用，流结束后不可变。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SystemTurn 是 system 指令。
type SystemTurn struct {
	Content string
}

// UserTurn 是用户发送的消息，内容可以是文本或多模态片段。
type UserTurn struct {
	Content   Content
	Timestamp time.Time
}

// AssistantTurn 是模型的回复。Content 为空且 ToolCalls 非空时表示纯工具调用回合。
type AssistantTurn struct {
	Content   string
	ToolCalls []ToolCall
	ToolUsed  bool
	Timestamp time.Time
}

// ToolTurn 是某次工具调用的结果，通过 CallID 与请求关联。
type ToolTurn struct {
	CallID    string
	Name      string
	Content   string
	Timestamp time.Time
}

func (SystemTurn) Role() Role    { return RoleSystem }
func (UserTurn) Role() Role      { return RoleUser }
func (AssistantTurn) Role() Role { return RoleAssistant }
func (ToolTurn) Role() Role      { return RoleTool }

func (SystemTurn) isTurn()    {}
func (UserTurn) isTurn()      {}
func (AssistantTurn) isTurn() {}
func (ToolTurn) isTurn()      {}

// turnEnvelope 是轮次在存储与接口中的 JSON 形态。
type turnEnvelope struct {
	Role       Role       `json:"role"`
	Content    *Content   `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolUsed   bool       `json:"tool_used,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// MarshalTurn 将一个轮次编码为带角色标签的 JSON 对象。
func MarshalTurn(t Turn) ([]byte, error) {
	var env turnEnvelope
	switch v := t.(type) {
	case SystemTurn:
		c := TextContent(v.Content)
		env = turnEnvelope{Role: RoleSystem, Content: &c}
	case UserTurn:
		c := v.Content
		env = turnEnvelope{Role: RoleUser, Content: &c, Timestamp: timePtr(v.Timestamp)}
	case AssistantTurn:
		env = turnEnvelope{Role: RoleAssistant, ToolCalls: v.ToolCalls, ToolUsed: v.ToolUsed, Timestamp: timePtr(v.Timestamp)}
		if v.Content != "" || len(v.ToolCalls) == 0 {
			c := TextContent(v.Content)
			env.Content = &c
		}
	case ToolTurn:
		c := TextContent(v.Content)
		env = turnEnvelope{Role: RoleTool, Content: &c, ToolCallID: v.CallID, Name: v.Name, Timestamp: timePtr(v.Timestamp)}
	default:
		return nil, fmt.Errorf("unsupported turn type %T", t)
	}
	return json.Marshal(env)
}

// UnmarshalTurn 按 role 字段解码一个轮次。
func UnmarshalTurn(data []byte) (Turn, error) {
	var env turnEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var content Content
	if env.Content != nil {
		content = *env.Content
	}
	switch env.Role {
	case RoleSystem:
		return SystemTurn{Content: content.PlainText()}, nil
	case RoleUser:
		return UserTurn{Content: content, Timestamp: derefTime(env.Timestamp)}, nil
	case RoleAssistant:
		return AssistantTurn{
			Content:   content.PlainText(),
			ToolCalls: env.ToolCalls,
			ToolUsed:  env.ToolUsed,
			Timestamp: derefTime(env.Timestamp),
		}, nil
	case RoleTool:
		if env.ToolCallID == "" {
			return nil, fmt.Errorf("tool turn without tool_call_id")
		}
		return ToolTurn{CallID: env.ToolCallID, Name: env.Name, Content: content.PlainText(), Timestamp: derefTime(env.Timestamp)}, nil
	default:
		return nil, fmt.Errorf("unknown turn role %q", env.Role)
	}
}

// History 是有序的轮次序列，JSON 编码为带角色标签的数组。
type History []Turn

// MarshalJSON 实现 json.Marshaler 接口。
func (h History) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(h))
	for _, t := range h {
		b, err := MarshalTurn(t)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON 实现 json.Unmarshaler 接口。
func (h *History) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(History, 0, len(raw))
	for i, r := range raw {
		t, err := UnmarshalTurn(r)
		if err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	*h = out
	return nil
}
