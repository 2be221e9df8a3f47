// Package tools 提供显式构造、注入到编排器中的工具注册表。
package tools

import (
	"context"
	"errors"
	"fmt"
	"voxchat-go/pkg/llm"
)

// Handler 是工具的实现。args 为已解析的 JSON 参数对象；返回值若不是字符串会被序列化为 JSON。
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool 是一条不可变的工具声明与绑定。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry 持有 name → Tool 的绑定，构造后只读，可在并发请求间共享。
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

// NewRegistry 按给定顺序注册工具；名称为空、重名或缺少实现都会返回错误。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool name must not be empty")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		if t.Parameters == nil {
			t.Parameters = emptyParameters()
		}
		r.tools = append(r.tools, t)
		r.byName[t.Name] = t
	}
	return r, nil
}

// MustNewRegistry 与 NewRegistry 相同，出错时 panic，用于启动阶段的静态注册。
func MustNewRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.byName[name]
	return t, ok
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// Tools 按注册顺序返回全部工具。
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Specs 按注册顺序返回向模型声明的工具能力。
func (r *Registry) Specs() []llm.ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return specs
}

func emptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}
