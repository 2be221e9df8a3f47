package repository

import (
	"context"
	"testing"
	"time"
	"voxchat-go/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newConversation(id string, userID uint, title string, at time.Time) *model.Conversation {
	return &model.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: at, UpdatedAt: at}
}

func TestConversationRepository_CreateGet(t *testing.T) {
	repo := NewConversationRepository(newTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	conv := newConversation("c1", 1, "Hola", now)
	conv.History = model.History{model.UserTurn{Content: model.TextContent("hola"), Timestamp: now.UTC()}}
	require.NoError(t, repo.Create(ctx, conv))
	assert.ErrorIs(t, repo.Create(ctx, newConversation("c1", 2, "otro", now)), ErrConversationExists)

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Hola", got.Title)
	assert.Equal(t, uint(1), got.UserID)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hola", got.History[0].(model.UserTurn).Content.Text)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestConversationRepository_ReplaceHistoryCompareAndSwap(t *testing.T) {
	repo := NewConversationRepository(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newConversation("c1", 1, "t", time.Now())))

	h1 := model.History{model.UserTurn{Content: model.TextContent("a")}}
	updated, err := repo.ReplaceHistory(ctx, "c1", 0, h1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	// 使用过期的版本号写入会被拒绝，且不改变存储内容
	h2 := model.History{model.UserTurn{Content: model.TextContent("b")}}
	_, err = repo.ReplaceHistory(ctx, "c1", 0, h2)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "a", got.History[0].(model.UserTurn).Content.Text)

	_, err = repo.ReplaceHistory(ctx, "missing", 0, h1)
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

func TestConversationRepository_ListOrderAndOwnership(t *testing.T) {
	repo := NewConversationRepository(newTestRedis(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, newConversation("old", 1, "old", base)))
	require.NoError(t, repo.Create(ctx, newConversation("new", 1, "new", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newConversation("other", 2, "other", base)))

	list, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	// 修改历史会把会话移到最前
	_, err = repo.ReplaceHistory(ctx, "old", 0, model.History{})
	require.NoError(t, err)
	list, err = repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "old", list[0].ID)

	_, err = repo.UpdateTitle(ctx, "other", 1, "hijack")
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
	renamed, err := repo.UpdateTitle(ctx, "other", 2, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Title)
}

func TestConversationRepository_Delete(t *testing.T) {
	repo := NewConversationRepository(newTestRedis(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newConversation("c1", 1, "t", time.Now())))

	ok, err := repo.Delete(ctx, "c1", 2)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner may delete")

	ok, err = repo.Delete(ctx, "c1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVoiceLinkRepository(t *testing.T) {
	repo := NewVoiceLinkRepository(newTestRedis(t))
	ctx := context.Background()

	_, err := repo.GetRegistration(ctx, "el_1")
	assert.ErrorIs(t, err, ErrRegistrationNotFound)

	require.NoError(t, repo.Register(ctx, model.SessionRegistration{SessionID: "el_1", UserID: 4, AppConversationID: "app"}, time.Hour))
	reg, err := repo.GetRegistration(ctx, "el_1")
	require.NoError(t, err)
	assert.Equal(t, uint(4), reg.UserID)
	assert.Equal(t, "app", reg.AppConversationID)

	_, ok, err := repo.GetPushedAudio(ctx, "el_1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, repo.CachePushedAudio(ctx, "el_1", []byte{0xff, 0xfb, 0x90}, time.Hour))
	audio, ok, err := repo.GetPushedAudio(ctx, "el_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, audio)
	require.NoError(t, repo.DeletePushedAudio(ctx, "el_1"))
	_, ok, _ = repo.GetPushedAudio(ctx, "el_1")
	assert.False(t, ok)

	n, err := repo.IncrTaskAttempts(ctx, "el_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = repo.IncrTaskAttempts(ctx, "el_1")
	assert.Equal(t, int64(2), n)
	require.NoError(t, repo.ClearTaskAttempts(ctx, "el_1"))
	n, _ = repo.IncrTaskAttempts(ctx, "el_1")
	assert.Equal(t, int64(1), n)
}
