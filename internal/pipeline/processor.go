// Package pipeline 定义了语音会话的对账流程：录音与转写并行获取，随后链接会话并写入记录。
package pipeline

import (
	"context"
	"fmt"
	"time"
	"voxchat-go/internal/model"
	"voxchat-go/pkg/elevenlabs"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/tasks"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TranscriptFetcher 从服务商获取会话详情。
type TranscriptFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (*elevenlabs.Session, error)
}

// VoiceSessionStore 按服务商会话 id 幂等地写入语音会话。
type VoiceSessionStore interface {
	Upsert(ctx context.Context, session *model.VoiceSession) error
}

// Result 是一次对账的结果。
type Result struct {
	Session             *model.VoiceSession
	MessageCount        int
	ConversationCreated bool
}

// Processor 封装了语音会话对账的所有依赖和逻辑。
type Processor struct {
	resolver    *AudioResolver
	transcripts TranscriptFetcher
	linker      *Linker
	sessions    VoiceSessionStore
	titleMaxLen int
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(resolver *AudioResolver, transcripts TranscriptFetcher, linker *Linker, sessions VoiceSessionStore, titleMaxLen int) *Processor {
	return &Processor{
		resolver:    resolver,
		transcripts: transcripts,
		linker:      linker,
		sessions:    sessions,
		titleMaxLen: titleMaxLen,
	}
}

// Process 满足 Kafka 消费者的任务处理接口。
func (p *Processor) Process(ctx context.Context, task tasks.VoiceSessionTask) error {
	_, err := p.Reconcile(ctx, task)
	return err
}

// Reconcile 组装并写入一条语音会话记录。录音或转写缺失不是错误，记录允许部分完整。
func (p *Processor) Reconcile(ctx context.Context, task tasks.VoiceSessionTask) (*Result, error) {
	log.Infof("[Processor] 开始处理语音会话: %s (App ID: %s), 用户: %d", task.SessionID, task.AppConversationID, task.UserID)

	// 1. 录音与转写互不依赖，并行获取
	var (
		audioURL string
		hasAudio bool
		raw      []model.RawTranscriptEntry
	)
	var g errgroup.Group
	g.Go(func() error {
		audioURL, hasAudio = p.resolver.Resolve(ctx, task.SessionID)
		return nil
	})
	g.Go(func() error {
		raw = p.fetchTranscript(ctx, task)
		return nil
	})
	_ = g.Wait()

	// 2. 规范化转写
	entries := NormalizeTranscript(raw)
	log.Infof("[Processor] 语音会话 %s: 转写 %d 条, 录音: %t", task.SessionID, len(entries), hasAudio)

	// 3. 需要链接时先保证目标会话存在
	session := &model.VoiceSession{
		ID:        uuid.NewString(),
		UserID:    task.UserID,
		SessionID: task.SessionID,
	}
	result := &Result{Session: session, MessageCount: len(entries)}
	if task.AppConversationID != "" {
		title := VoiceTitle(entries, p.titleMaxLen, time.Now())
		created, err := p.linker.Ensure(ctx, task.AppConversationID, task.UserID, title)
		if err != nil {
			return nil, fmt.Errorf("链接会话失败: %w", err)
		}
		result.ConversationCreated = created
		convID := task.AppConversationID
		session.ConversationID = &convID
	}

	// 4. 写入记录
	if hasAudio {
		session.AudioURL = &audioURL
	}
	if err := session.SetTranscript(entries); err != nil {
		return nil, fmt.Errorf("序列化转写失败: %w", err)
	}
	if err := p.sessions.Upsert(ctx, session); err != nil {
		return nil, fmt.Errorf("保存语音会话失败: %w", err)
	}
	log.Infof("[Processor] 语音会话已保存: id=%s, session=%s", session.ID, task.SessionID)
	return result, nil
}

// fetchTranscript 优先使用服务商转写，失败或为空时回退到客户端提供的数据，否则为空。
func (p *Processor) fetchTranscript(ctx context.Context, task tasks.VoiceSessionTask) []model.RawTranscriptEntry {
	s, err := p.transcripts.FetchSession(ctx, task.SessionID)
	if err == nil && len(s.Transcript) > 0 {
		return FromProvider(s.Transcript)
	}
	if err != nil {
		log.Warnf("[Processor] 获取服务商转写失败, session: %s, error: %v", task.SessionID, err)
	}
	if len(task.FallbackTranscript) > 0 {
		log.Infof("[Processor] 使用客户端提供的兜底转写: %d 条", len(task.FallbackTranscript))
		return task.FallbackTranscript
	}
	return nil
}
