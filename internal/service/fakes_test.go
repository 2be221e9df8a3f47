package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"voxchat-go/internal/model"
	"voxchat-go/internal/repository"
	"voxchat-go/pkg/elevenlabs"
	"voxchat-go/pkg/llm"
	"voxchat-go/pkg/storage"
	"voxchat-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// memVoiceSessions 是内存中的语音记录存储。
type memVoiceSessions struct {
	mu   sync.Mutex
	rows map[string]model.VoiceSession
}

var _ repository.VoiceSessionRepository = (*memVoiceSessions)(nil)

func newMemVoiceSessions() *memVoiceSessions {
	return &memVoiceSessions{rows: map[string]model.VoiceSession{}}
}

func (m *memVoiceSessions) Upsert(ctx context.Context, s *model.VoiceSession) error {
	return m.Create(ctx, s)
}

func (m *memVoiceSessions) Create(ctx context.Context, s *model.VoiceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = *s
	return nil
}

func (m *memVoiceSessions) FindByID(ctx context.Context, id string) (*model.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (m *memVoiceSessions) FindByConversation(ctx context.Context, conversationID string, userID uint) ([]model.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VoiceSession
	for _, s := range m.rows {
		if s.ConversationID != nil && *s.ConversationID == conversationID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memVoiceSessions) Delete(ctx context.Context, id string, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memVoiceSessions) DeleteByConversation(ctx context.Context, conversationID string, userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.UserID == userID && s.ConversationID != nil && *s.ConversationID == conversationID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// memUsers 是内存中的用户存储。
type memUsers struct {
	mu    sync.Mutex
	users []*model.User
}

func (m *memUsers) Create(u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = uint(len(m.users) + 1)
	m.users = append(m.users, u)
	return nil
}

func (m *memUsers) FindByUsername(username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) FindByID(id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// memStore 是内存中的对象存储。
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

var _ storage.ObjectStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[bucket+"/"+name] = data
	return nil
}

func (m *memStore) PublicURL(bucket, name string) string {
	return storage.PublicURL("http://minio.local", bucket, name)
}

func (m *memStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for key := range m.objects {
		if len(key) > len(bucket)+1 && key[:len(bucket)+1] == bucket+"/" {
			name := key[len(bucket)+1:]
			if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (m *memStore) Remove(ctx context.Context, bucket, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+name)
	return nil
}

func (m *memStore) has(bucket, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+name]
	return ok
}

// fakeProvider 模拟语音服务商。
type fakeProvider struct {
	voiceIDs []string
	err      error
}

func (f *fakeProvider) ListVoices(ctx context.Context) ([]elevenlabs.Voice, error) {
	return []elevenlabs.Voice{{VoiceID: "v1", Name: "Rachel"}}, f.err
}

func (f *fakeProvider) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.voiceIDs = append(f.voiceIDs, voiceID)
	return []byte("mp3:" + text), nil
}

// recordingPublisher 记录投递的任务。
type recordingPublisher struct {
	tasks []tasks.VoiceSessionTask
	err   error
}

func (p *recordingPublisher) PublishVoiceTask(ctx context.Context, task tasks.VoiceSessionTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// scriptedLLM 按顺序为每一轮返回预设的增量。
type scriptedLLM struct {
	mu       sync.Mutex
	passes   [][]llm.Delta
	failOn   int
	requests []llm.Request
}

func (c *scriptedLLM) StreamCompletion(ctx context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	if c.failOn == n {
		return nil, errors.New("upstream unavailable")
	}
	if n > len(c.passes) {
		return &deltaStream{}, nil
	}
	return &deltaStream{deltas: c.passes[n-1]}, nil
}

type deltaStream struct {
	deltas []llm.Delta
	i      int
}

func (s *deltaStream) Recv() (llm.Delta, error) {
	if s.i >= len(s.deltas) {
		return llm.Delta{}, io.EOF
	}
	d := s.deltas[s.i]
	s.i++
	return d, nil
}

func (s *deltaStream) Close() error { return nil }
