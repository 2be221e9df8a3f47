package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"voxchat-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.ElevenLabsConfig{
		APIKey:         "xi-key",
		BaseURL:        srv.URL + "/v1/",
		DefaultVoiceID: "rachel",
		TTSModel:       "eleven_turbo_v2_5",
	})
}

func TestFetchRecording(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "/v1/convai/conversations/conv_1/audio", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-bytes"))
	})

	audio, err := c.FetchRecording(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-bytes"), audio)
}

func TestFetchRecording_NotReady(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	})

	_, err := c.FetchRecording(context.Background(), "conv_1")
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
	assert.True(t, IsNotReady(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsNotReady(&APIError{StatusCode: http.StatusUnauthorized}))
}

func TestFetchSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convai/conversations/conv_2", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversation_id":"conv_2","status":"done","transcript":[
			{"role":"agent","message":"Hola","time_in_call_secs":0},
			{"role":"user","message":"¿Qué tiempo hace?","time_in_call_secs":3}
		]}`))
	})

	s, err := c.FetchSession(context.Background(), "conv_2")
	require.NoError(t, err)
	require.Len(t, s.Transcript, 2)
	assert.Equal(t, "agent", s.Transcript[0].Role)
	assert.Equal(t, "Hola", s.Transcript[0].Message)
	require.NotNil(t, s.Transcript[1].TimeInCallSecs)
	assert.Equal(t, float64(3), *s.Transcript[1].TimeInCallSecs)
}

func TestSynthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/text-to-speech/rachel", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "hola", req["text"])
		assert.Equal(t, "eleven_turbo_v2_5", req["model_id"])
		_, _ = w.Write([]byte("mp3"))
	})

	audio, err := c.Synthesize(context.Background(), "hola", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)

	_, err = c.Synthesize(context.Background(), "  ", "")
	assert.Error(t, err)
}

func TestListVoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel"}]}`))
	})

	voices, err := c.ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{{VoiceID: "v1", Name: "Rachel"}}, voices)
}
