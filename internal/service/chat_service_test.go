package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"voxchat-go/internal/model"
	"voxchat-go/internal/orchestrator"
	"voxchat-go/internal/repository"
	"voxchat-go/internal/tools"
	"voxchat-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatService(t *testing.T, client *scriptedLLM, repo repository.ConversationRepository) *chatService {
	t.Helper()
	orch := orchestrator.New(client, tools.MustNewRegistry(tools.WeatherTool()), "Eres un asistente.")
	svc := NewChatService(orch, repo, 30).(*chatService)
	svc.retryDelay = time.Millisecond
	return svc
}

func userMessage(text string) ChatMessage {
	return ChatMessage{Role: model.RoleUser, Content: model.TextContent(text)}
}

func drain(t *testing.T, seq func(func(orchestrator.Event, error) bool)) (string, []orchestrator.EventKind, error) {
	t.Helper()
	var text strings.Builder
	var kinds []orchestrator.EventKind
	var streamErr error
	seq(func(ev orchestrator.Event, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		kinds = append(kinds, ev.Kind)
		text.WriteString(ev.Content)
		return true
	})
	return text.String(), kinds, streamErr
}

func TestChatService_RejectsEmptyOrNonUserLastMessage(t *testing.T) {
	svc := newChatService(t, &scriptedLLM{}, repository.NewConversationRepository(newRedis(t)))
	ctx := context.Background()

	_, err := svc.Stream(ctx, 1, "c1", ChatRequest{})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("  ")}})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{
		userMessage("hola"),
		{Role: model.RoleAssistant, Content: model.TextContent("hola")},
	}})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Stream(ctx, 1, " ", ChatRequest{Messages: []ChatMessage{userMessage("hola")}})
	assert.ErrorIs(t, err, ErrMissingConversationID)
}

func TestChatService_TemporaryChatPersistsNothing(t *testing.T) {
	client := &scriptedLLM{passes: [][]llm.Delta{{{Content: "Hola"}}}}
	repo := repository.NewConversationRepository(newRedis(t))
	svc := newChatService(t, client, repo)
	ctx := context.Background()

	seq, err := svc.Stream(ctx, 1, "tmp", ChatRequest{IsTemporary: true, Messages: []ChatMessage{
		userMessage("primera"),
		{Role: model.RoleAssistant, Content: model.TextContent("respuesta")},
		userMessage("segunda"),
	}})
	require.NoError(t, err)
	text, kinds, err := drain(t, seq)
	require.NoError(t, err)
	assert.Equal(t, "Hola", text)
	assert.Equal(t, orchestrator.EventDone, kinds[len(kinds)-1])

	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "segunda", msgs[3].Content)

	_, err = repo.Get(ctx, "tmp")
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestChatService_PersistentChatAutoCreatesAndSavesReply(t *testing.T) {
	client := &scriptedLLM{passes: [][]llm.Delta{
		{{Content: "Hola "}, {Content: "mundo"}},
		{{Content: "De nada"}},
	}}
	repo := repository.NewConversationRepository(newRedis(t))
	svc := newChatService(t, client, repo)
	ctx := context.Background()

	seq, err := svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("Hola, ¿qué tal estás hoy? Cuéntame algo")}})
	require.NoError(t, err)

	// 用户消息在流开始前已经写入
	conv, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.History, 1)
	assert.Equal(t, "Hola, ¿qué tal estás hoy? Cuén...", conv.Title)

	text, _, err := drain(t, seq)
	require.NoError(t, err)
	assert.Equal(t, "Hola mundo", text)

	conv, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
	reply := conv.History[1].(model.AssistantTurn)
	assert.Equal(t, "Hola mundo", reply.Content)
	assert.False(t, reply.ToolUsed)

	// 第二条消息以存储中的历史作为上下文
	seq, err = svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("gracias")}})
	require.NoError(t, err)
	_, _, err = drain(t, seq)
	require.NoError(t, err)

	msgs := client.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "Hola mundo", msgs[2].Content)
	assert.Equal(t, "gracias", msgs[3].Content)

	conv, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, conv.History, 4)
}

func TestChatService_ToolUsedIsPersisted(t *testing.T) {
	client := &scriptedLLM{passes: [][]llm.Delta{
		{{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "call_1", Name: "get_weather", Arguments: `{"location":"Tokyo"}`}}}},
		{{Content: "En Tokio hace 11°C."}},
	}}
	repo := repository.NewConversationRepository(newRedis(t))
	svc := newChatService(t, client, repo)
	ctx := context.Background()

	seq, err := svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("¿Tiempo en Tokio?")}})
	require.NoError(t, err)
	text, kinds, err := drain(t, seq)
	require.NoError(t, err)
	assert.Equal(t, "En Tokio hace 11°C.", text)
	assert.Contains(t, kinds, orchestrator.EventToolUsed)

	conv, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
	reply := conv.History[1].(model.AssistantTurn)
	assert.True(t, reply.ToolUsed)
	assert.Equal(t, "En Tokio hace 11°C.", reply.Content)
}

func TestChatService_TransportFailureSavesNoReply(t *testing.T) {
	client := &scriptedLLM{failOn: 1}
	repo := repository.NewConversationRepository(newRedis(t))
	svc := newChatService(t, client, repo)
	ctx := context.Background()

	seq, err := svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("hola")}})
	require.NoError(t, err)
	_, kinds, err := drain(t, seq)
	assert.Error(t, err)
	assert.NotContains(t, kinds, orchestrator.EventDone)

	conv, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, conv.History, 1)
}

func TestChatService_ForeignConversationIsNotFound(t *testing.T) {
	repo := repository.NewConversationRepository(newRedis(t))
	svc := newChatService(t, &scriptedLLM{}, repo)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.Conversation{ID: "c1", UserID: 2, Title: "ajena"}))

	_, err := svc.Stream(ctx, 1, "c1", ChatRequest{Messages: []ChatMessage{userMessage("hola")}})
	assert.ErrorIs(t, err, model.ErrConversationNotFound)

	conv, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, conv.History)
}

// conflictingRepo 在前 conflicts 次替换历史时报告版本冲突。
type conflictingRepo struct {
	repository.ConversationRepository
	conflicts int
	calls     int
}

func (r *conflictingRepo) ReplaceHistory(ctx context.Context, id string, expected int64, history model.History) (*model.Conversation, error) {
	r.calls++
	if r.calls <= r.conflicts {
		return nil, repository.ErrVersionConflict
	}
	return r.ConversationRepository.ReplaceHistory(ctx, id, expected, history)
}

func TestChatService_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	base := repository.NewConversationRepository(newRedis(t))
	require.NoError(t, base.Create(ctx, &model.Conversation{ID: "c1", UserID: 1}))

	repo := &conflictingRepo{ConversationRepository: base, conflicts: 2}
	svc := newChatService(t, &scriptedLLM{}, repo)
	_, err := svc.appendTurns(ctx, 1, "c1", model.UserTurn{Content: model.TextContent("hola")})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)

	repo = &conflictingRepo{ConversationRepository: base, conflicts: 3}
	svc = newChatService(t, &scriptedLLM{}, repo)
	_, err = svc.appendTurns(ctx, 1, "c1", model.UserTurn{Content: model.TextContent("hola")})
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, 3, repo.calls)
}
