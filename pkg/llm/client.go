// Package llm 将 OpenAI 兼容的流式补全接口适配为统一的增量事件序列。
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"voxchat-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

// Message 是发送给模型的一条消息。
type Message struct {
	Role       string
	Content    string
	Parts      []ContentPart
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ContentPart 是多模态消息片段。
type ContentPart struct {
	Type     string
	Text     string
	ImageURL string
}

// ToolCall 是助手消息中携带的完整工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec 是向模型声明的工具能力。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Request 是一次流式补全请求。Tools 为空时不声明任何工具。
type Request struct {
	Model      string
	Messages   []Message
	Tools      []ToolSpec
	Generation *GenerationParams
}

// ToolCallDelta 是按调用下标路由的工具调用片段，字段只在本片段携带时非空。
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta 是流中的一个归一化单元：可见文本增量和/或工具调用片段。
type Delta struct {
	Content   string
	ToolCalls []ToolCallDelta
}

// Stream 是单次消费的增量序列，结束时 Recv 返回 io.EOF。
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Client defines the interface for an LLM client.
type Client interface {
	StreamCompletion(ctx context.Context, req Request) (Stream, error)
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient 基于配置创建一个 OpenAI 兼容的客户端。
func NewClient(cfg config.LLMConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// StreamCompletion 打开一次流式补全。工具非空时附带工具声明并使用自动工具选择。
func (c *openAIClient) StreamCompletion(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}
	c.applyGeneration(&chatReq, req.Generation)

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// applyGeneration 从传参或全局配置注入生成参数（传参优先生效）。
func (c *openAIClient) applyGeneration(chatReq *openai.ChatCompletionRequest, gen *GenerationParams) {
	if gen == nil {
		gen = &GenerationParams{}
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			gen.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			gen.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			gen.MaxTokens = &m
		}
	}
	if gen.Temperature != nil {
		chatReq.Temperature = float32(*gen.Temperature)
	}
	if gen.TopP != nil {
		chatReq.TopP = float32(*gen.TopP)
	}
	if gen.MaxTokens != nil {
		chatReq.MaxTokens = *gen.MaxTokens
	}
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) > 0 {
			for _, p := range m.Parts {
				part := openai.ChatMessagePart{Type: openai.ChatMessagePartType(p.Type), Text: p.Text}
				if p.ImageURL != "" {
					part.ImageURL = &openai.ChatMessageImageURL{URL: p.ImageURL}
				}
				om.MultiContent = append(om.MultiContent, part)
			}
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// openAIStream 将 go-openai 的流包装为归一化的 Delta 序列。
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Delta, error) {
	for {
		chunk, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Delta{}, io.EOF
			}
			return Delta{}, fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		out := Delta{Content: delta.Content}
		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			out.ToolCalls = append(out.ToolCalls, ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if out.Content == "" && len(out.ToolCalls) == 0 {
			continue
		}
		return out, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
