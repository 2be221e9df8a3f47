package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"voxchat-go/internal/model"
	"voxchat-go/internal/pipeline"
	"voxchat-go/internal/repository"
	"voxchat-go/pkg/elevenlabs"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/storage"
	"voxchat-go/pkg/tasks"
)

// ErrMissingSessionID 表示请求中缺少服务商会话 id。
var ErrMissingSessionID = errors.New("conversation_id is required")

// registrationTTL 是会话登记的保留时间，超过后推送通知不再触发对账。
const registrationTTL = 24 * time.Hour

// TaskPublisher 把对账任务投递到异步队列。
type TaskPublisher interface {
	PublishVoiceTask(ctx context.Context, task tasks.VoiceSessionTask) error
}

// Reconciler 同步执行一次语音会话对账。
type Reconciler interface {
	Reconcile(ctx context.Context, task tasks.VoiceSessionTask) (*pipeline.Result, error)
}

// VoiceProvider 是语音服务商提供的音色查询与合成能力。
type VoiceProvider interface {
	ListVoices(ctx context.Context) ([]elevenlabs.Voice, error)
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ProcessRequest 是同步对账接口的请求体。
type ProcessRequest struct {
	SessionID         string                     `json:"conversation_id"`
	AppConversationID string                     `json:"app_conversation_id"`
	Transcript        []model.RawTranscriptEntry `json:"transcript"`
}

// VoiceService 定义了语音会话相关的业务操作。
type VoiceService interface {
	RegisterSession(ctx context.Context, userID uint, sessionID, appConversationID string) error
	ProcessSession(ctx context.Context, userID uint, req ProcessRequest) (*pipeline.Result, error)
	HandleWebhook(ctx context.Context, sessionID string, audio []byte) error
	ListVoices(ctx context.Context) ([]elevenlabs.Voice, error)
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// VoiceOptions 是语音服务的可调参数。
type VoiceOptions struct {
	Bucket         string
	PushCacheTTL   time.Duration
	DefaultVoiceID string
}

type voiceService struct {
	reconciler Reconciler
	links      repository.VoiceLinkRepository
	store      storage.ObjectStore
	publisher  TaskPublisher
	provider   VoiceProvider
	opts       VoiceOptions
}

// NewVoiceService 创建一个新的 VoiceService 实例。
func NewVoiceService(
	reconciler Reconciler,
	links repository.VoiceLinkRepository,
	store storage.ObjectStore,
	publisher TaskPublisher,
	provider VoiceProvider,
	opts VoiceOptions,
) VoiceService {
	return &voiceService{
		reconciler: reconciler,
		links:      links,
		store:      store,
		publisher:  publisher,
		provider:   provider,
		opts:       opts,
	}
}

// RegisterSession 登记服务商会话 id 与用户、应用会话的对应关系。
func (s *voiceService) RegisterSession(ctx context.Context, userID uint, sessionID, appConversationID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrMissingSessionID
	}
	reg := model.SessionRegistration{
		SessionID:         sessionID,
		UserID:            userID,
		AppConversationID: appConversationID,
		CreatedAt:         time.Now(),
	}
	if err := s.links.Register(ctx, reg, registrationTTL); err != nil {
		return err
	}
	log.Infof("[VoiceService] 已登记语音会话 %s, 用户: %d, App ID: %s", sessionID, userID, appConversationID)
	return nil
}

// ProcessSession 同步对账一次语音会话。
func (s *voiceService) ProcessSession(ctx context.Context, userID uint, req ProcessRequest) (*pipeline.Result, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, ErrMissingSessionID
	}
	return s.reconciler.Reconcile(ctx, tasks.VoiceSessionTask{
		SessionID:          req.SessionID,
		UserID:             userID,
		AppConversationID:  req.AppConversationID,
		FallbackTranscript: req.Transcript,
	})
}

// HandleWebhook 处理服务商推送的录音。
// 录音以确定的对象名写入对象存储，上传失败时暂存到 Redis；会话已登记时投递异步对账任务。
func (s *voiceService) HandleWebhook(ctx context.Context, sessionID string, audio []byte) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrMissingSessionID
	}

	// 1. 保存录音
	if len(audio) > 0 {
		if err := s.store.Put(ctx, s.opts.Bucket, pipeline.ObjectName(sessionID), audio, "audio/mpeg"); err != nil {
			log.Warnf("[VoiceService] 推送录音上传失败，改为暂存, session: %s, error: %v", sessionID, err)
			if err := s.links.CachePushedAudio(ctx, sessionID, audio, s.opts.PushCacheTTL); err != nil {
				return fmt.Errorf("暂存推送录音失败: %w", err)
			}
		}
	}

	// 2. 已登记的会话触发异步对账
	reg, err := s.links.GetRegistration(ctx, sessionID)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		log.Infof("[VoiceService] 语音会话 %s 未登记，等待客户端同步对账", sessionID)
		return nil
	}
	if err != nil {
		return err
	}
	task := tasks.VoiceSessionTask{SessionID: sessionID, UserID: reg.UserID, AppConversationID: reg.AppConversationID}
	if err := s.publisher.PublishVoiceTask(ctx, task); err != nil {
		return fmt.Errorf("投递对账任务失败: %w", err)
	}
	log.Infof("[VoiceService] 已投递语音会话 %s 的对账任务", sessionID)
	return nil
}

// ListVoices 返回服务商可用的音色。
func (s *voiceService) ListVoices(ctx context.Context) ([]elevenlabs.Voice, error) {
	return s.provider.ListVoices(ctx)
}

// Synthesize 合成语音，未指定音色时使用默认音色。
func (s *voiceService) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if voiceID == "" {
		voiceID = s.opts.DefaultVoiceID
	}
	return s.provider.Synthesize(ctx, text, voiceID)
}
