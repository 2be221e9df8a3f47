// Package elevenlabs 封装语音服务商的 HTTP 接口：会话录音、会话转写、音色列表与文本转语音。
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"voxchat-go/internal/config"
	"voxchat-go/pkg/log"
)

// APIError 携带上游返回的非 2xx 状态码。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api error: %d - %s", e.StatusCode, e.Body)
}

// IsNotReady 判断错误是否属于“录音尚未就绪”（上游返回 404），只有这一类值得重试。
func IsNotReady(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// TranscriptItem 是会话转写中的一条记录。
type TranscriptItem struct {
	Role           string   `json:"role"`
	Text           string   `json:"text,omitempty"`
	Message        string   `json:"message,omitempty"`
	TimeInCallSecs *float64 `json:"time_in_call_secs,omitempty"`
}

// Session 是会话详情中本服务关心的部分。
type Session struct {
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Transcript     []TranscriptItem `json:"transcript"`
}

// Voice 是一个可用音色。
type Voice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// Client 是语音服务商客户端。
type Client interface {
	FetchRecording(ctx context.Context, sessionID string) ([]byte, error)
	FetchSession(ctx context.Context, sessionID string) (*Session, error)
	ListVoices(ctx context.Context) ([]Voice, error)
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type httpClient struct {
	cfg    config.ElevenLabsConfig
	client *http.Client
}

// NewClient 创建客户端。
func NewClient(cfg config.ElevenLabsConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// FetchRecording 下载会话录音（audio/mpeg）。
func (c *httpClient) FetchRecording(ctx context.Context, sessionID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/convai/conversations/"+url.PathEscape(sessionID)+"/audio", nil)
}

// FetchSession 获取会话详情与转写。
func (c *httpClient) FetchSession(ctx context.Context, sessionID string) (*Session, error) {
	body, err := c.do(ctx, http.MethodGet, "/convai/conversations/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// ListVoices 列出账户可用的音色。
func (c *httpClient) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := c.do(ctx, http.MethodGet, "/voices", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return resp.Voices, nil
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize 把文本合成为 mp3 音频。voiceID 为空时使用默认音色。
func (c *httpClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text must not be empty")
	}
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoiceID
	}
	payload, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       c.cfg.TTSModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/text-to-speech/"+url.PathEscape(voiceID), payload)
}

func (c *httpClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call elevenlabs api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read elevenlabs response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warnf("[ElevenLabs] %s %s 返回状态码 %d", method, path, resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
