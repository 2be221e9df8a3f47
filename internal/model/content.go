package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPartType 标识多模态内容片段的类型。
type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImageURL ContentPartType = "image_url"
)

// ImageURL 是 image_url 片段携带的图片地址。
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart 是结构化内容序列中的一个片段。
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURL       `json:"image_url,omitempty"`
}

// Content 是“纯文本或结构化片段序列”的联合类型。
// JSON 中既可以是字符串，也可以是片段数组。
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent 构造一个纯文本内容。
func TextContent(text string) Content {
	return Content{Text: text}
}

// IsStructured 判断内容是否为片段序列。
func (c Content) IsStructured() bool {
	return len(c.Parts) > 0
}

// PlainText 返回内容中的全部文本；片段序列中的文本以空格拼接。
func (c Content) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == ContentPartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// FirstText 返回第一个非空文本片段（纯文本内容直接返回文本）。
func (c Content) FirstText() string {
	if !c.IsStructured() {
		return c.Text
	}
	for _, p := range c.Parts {
		if p.Type == ContentPartText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// MarshalJSON 实现 json.Marshaler 接口。
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON 实现 json.Unmarshaler 接口。
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}
