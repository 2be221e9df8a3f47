// Package orchestrator 驱动一次带工具调用的流式补全：
// 第一轮携带工具声明，若模型请求了工具则依次执行并把结果回灌，再以无工具的第二轮给出最终回答。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"voxchat-go/internal/model"
	"voxchat-go/internal/tools"
	"voxchat-go/pkg/llm"
	"voxchat-go/pkg/log"
)

// Orchestrator 是无状态的，可在并发请求间共享；每次 Stream 调用都是一次独立的编排。
type Orchestrator struct {
	client       llm.Client
	registry     *tools.Registry
	systemPrompt string
}

// New 创建编排器。systemPrompt 在调用方未提供 system 轮次时被前置。
func New(client llm.Client, registry *tools.Registry, systemPrompt string) *Orchestrator {
	return &Orchestrator{
		client:       client,
		registry:     registry,
		systemPrompt: systemPrompt,
	}
}

// Stream 返回一个惰性、只能消费一次的事件序列。
// 上游传输错误以 (Event{}, err) 形式产出一次后结束，此时不会产出 EventDone。
func (o *Orchestrator) Stream(ctx context.Context, modelName string, turns []model.Turn) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		history := o.withSystemPrompt(turns)

		// 1. 第一轮：附带工具声明
		acc := &ToolCallAccumulator{}
		var buffer strings.Builder
		req := llm.Request{Model: modelName, Messages: toMessages(history), Tools: o.registry.Specs()}
		if !o.pass(ctx, req, yield, acc, &buffer) {
			return
		}

		// 2. 无工具调用则直接结束
		calls := acc.Calls()
		if len(calls) == 0 {
			yield(Event{Kind: EventDone}, nil)
			return
		}

		history = append(history, model.AssistantTurn{Content: buffer.String(), ToolCalls: calls})
		if !yield(Event{Kind: EventToolUsed}, nil) {
			return
		}

		// 3. 按到达顺序逐个执行，每个调用恰好对应一条结果
		for _, call := range calls {
			log.Infof("执行工具: %s, 参数: %s", call.Name, call.Arguments)
			history = append(history, model.ToolTurn{
				CallID:  call.ID,
				Name:    call.Name,
				Content: o.invoke(ctx, call),
			})
		}

		// 4. 第二轮：不再声明工具
		req = llm.Request{Model: modelName, Messages: toMessages(history)}
		if !o.pass(ctx, req, yield, nil, nil) {
			return
		}
		yield(Event{Kind: EventDone}, nil)
	}
}

// pass 消费一轮补全流。返回 false 表示编排应当停止（出错或消费者提前退出）。
// acc 为 nil 时忽略工具调用片段。
func (o *Orchestrator) pass(ctx context.Context, req llm.Request, yield func(Event, error) bool, acc *ToolCallAccumulator, buffer *strings.Builder) bool {
	stream, err := o.client.StreamCompletion(ctx, req)
	if err != nil {
		yield(Event{}, err)
		return false
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			yield(Event{}, err)
			return false
		}
		if acc != nil {
			for _, tc := range delta.ToolCalls {
				acc.Apply(tc)
			}
		}
		if delta.Content == "" {
			continue
		}
		if buffer != nil {
			buffer.WriteString(delta.Content)
		}
		if !yield(Event{Kind: EventContent, Content: delta.Content}, nil) {
			return false
		}
	}
}

// invoke 执行单个工具调用并返回结果文本。任何失败都会被替换为 {"error": "..."}。
func (o *Orchestrator) invoke(ctx context.Context, call model.ToolCall) (content string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("工具 %s 执行时 panic: %v", call.Name, r)
			content = errorPayload(fmt.Errorf("tool %q panicked: %v", call.Name, r))
		}
	}()

	tool, ok := o.registry.Lookup(strings.TrimSpace(call.Name))
	if !ok {
		return errorPayload(fmt.Errorf("tool %q not found", call.Name))
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errorPayload(fmt.Errorf("invalid arguments for tool %q: %w", call.Name, err))
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		log.Warnf("工具 %s 执行失败: %v", call.Name, err)
		return errorPayload(err)
	}
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return errorPayload(fmt.Errorf("failed to serialize result of tool %q: %w", call.Name, err))
	}
	return string(b)
}

func errorPayload(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func (o *Orchestrator) withSystemPrompt(turns []model.Turn) []model.Turn {
	history := make([]model.Turn, 0, len(turns)+4)
	for _, t := range turns {
		if t.Role() == model.RoleSystem {
			return append(history, turns...)
		}
	}
	if o.systemPrompt != "" {
		history = append(history, model.SystemTurn{Content: o.systemPrompt})
	}
	return append(history, turns...)
}

func toMessages(turns []model.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch v := t.(type) {
		case model.SystemTurn:
			msgs = append(msgs, llm.Message{Role: string(model.RoleSystem), Content: v.Content})
		case model.UserTurn:
			msg := llm.Message{Role: string(model.RoleUser)}
			if v.Content.IsStructured() {
				for _, p := range v.Content.Parts {
					part := llm.ContentPart{Type: string(p.Type), Text: p.Text}
					if p.ImageURL != nil {
						part.ImageURL = p.ImageURL.URL
					}
					msg.Parts = append(msg.Parts, part)
				}
			} else {
				msg.Content = v.Content.Text
			}
			msgs = append(msgs, msg)
		case model.AssistantTurn:
			msg := llm.Message{Role: string(model.RoleAssistant), Content: v.Content}
			for _, tc := range v.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
			msgs = append(msgs, msg)
		case model.ToolTurn:
			msgs = append(msgs, llm.Message{
				Role:       string(model.RoleTool),
				Content:    v.Content,
				Name:       v.Name,
				ToolCallID: v.CallID,
			})
		}
	}
	return msgs
}
