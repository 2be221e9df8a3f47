package orchestrator

import (
	"encoding/json"
)

// EventKind 标识输出事件的类型。
type EventKind int

const (
	// EventContent 是一段助手可见文本。
	EventContent EventKind = iota
	// EventToolUsed 表示本轮调用过工具，每轮最多出现一次。
	EventToolUsed
	// EventDone 是终止哨兵。
	EventDone
)

// Event 是编排器向客户端输出的一个事件。
type Event struct {
	Kind    EventKind
	Content string
}

var doneMarker = []byte("[DONE]")

// Payload 返回事件的数据部分：{"content":...}、{"tool_used":true} 或字面量 [DONE]。
func (e Event) Payload() []byte {
	switch e.Kind {
	case EventToolUsed:
		return []byte(`{"tool_used":true}`)
	case EventDone:
		return doneMarker
	default:
		b, _ := json.Marshal(map[string]string{"content": e.Content})
		return b
	}
}

// Frame 返回一个 SSE 帧：data: <payload>\n\n
func (e Event) Frame() []byte {
	payload := e.Payload()
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}
