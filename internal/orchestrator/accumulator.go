package orchestrator

import (
	"voxchat-go/internal/model"
	"voxchat-go/pkg/llm"
)

// maxToolCalls 是单轮允许的工具调用下标上限，超出的片段被丢弃。
const maxToolCalls = 64

// ToolCallAccumulator 按调用下标把流式工具调用片段拼装成完整的调用。
// 同一下标的片段按到达顺序追加参数文本；id 与名称出现即写入。
type ToolCallAccumulator struct {
	slots   []model.ToolCall
	touched []bool
}

// Apply 合并一个片段。下标超出当前长度时补齐空槽位；负数或不小于 maxToolCalls 的下标被忽略。
func (a *ToolCallAccumulator) Apply(d llm.ToolCallDelta) {
	if d.Index < 0 || d.Index >= maxToolCalls {
		return
	}
	for len(a.slots) <= d.Index {
		a.slots = append(a.slots, model.ToolCall{})
		a.touched = append(a.touched, false)
	}
	slot := &a.slots[d.Index]
	if d.ID != "" {
		slot.ID = d.ID
	}
	if d.Name != "" {
		slot.Name = d.Name
	}
	slot.Arguments += d.Arguments
	a.touched[d.Index] = true
}

// Calls 按下标顺序返回收到过片段的调用；只因补齐而分配、从未收到片段的槽位不计入。
func (a *ToolCallAccumulator) Calls() []model.ToolCall {
	var calls []model.ToolCall
	for i, c := range a.slots {
		if a.touched[i] {
			calls = append(calls, c)
		}
	}
	return calls
}

// Len 返回已收到片段的调用数量。
func (a *ToolCallAccumulator) Len() int {
	n := 0
	for _, t := range a.touched {
		if t {
			n++
		}
	}
	return n
}
