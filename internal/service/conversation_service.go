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
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/storage"

	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage 表示消息没有任何文本或图片内容。
	ErrEmptyMessage = errors.New("empty message")
	// ErrVoiceSessionNotFound 表示语音记录不存在或不属于当前会话。
	ErrVoiceSessionNotFound = errors.New("voice session not found")
)

// Synthesizer 把文本合成为 MP3 音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ConversationService 定义了会话管理的业务操作。
type ConversationService interface {
	List(ctx context.Context, userID uint) ([]model.ConversationSummary, error)
	Get(ctx context.Context, userID uint, id string) (*model.ConversationDetail, error)
	Create(ctx context.Context, userID uint, first model.Content) (*model.Conversation, error)
	Rename(ctx context.Context, userID uint, id, title string) (*model.Conversation, error)
	Delete(ctx context.Context, userID uint, id string) error
	AddTTS(ctx context.Context, userID uint, id, text, voiceID string) (*model.VoiceSession, error)
	DeleteTTS(ctx context.Context, userID uint, id, audioID string) error
}

// ConversationOptions 是会话服务的可调参数。
type ConversationOptions struct {
	Bucket         string
	TitleMaxLen    int
	DefaultVoiceID string
}

type conversationService struct {
	conversations repository.ConversationRepository
	sessions      repository.VoiceSessionRepository
	synthesizer   Synthesizer
	store         storage.ObjectStore
	opts          ConversationOptions
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(
	conversations repository.ConversationRepository,
	sessions repository.VoiceSessionRepository,
	synthesizer Synthesizer,
	store storage.ObjectStore,
	opts ConversationOptions,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		sessions:      sessions,
		synthesizer:   synthesizer,
		store:         store,
		opts:          opts,
	}
}

// List 返回用户的会话摘要，最近更新的在前。
func (s *conversationService) List(ctx context.Context, userID uint) ([]model.ConversationSummary, error) {
	return s.conversations.List(ctx, userID)
}

// Get 返回会话详情与按创建时间排序的语音记录。
func (s *conversationService) Get(ctx context.Context, userID uint, id string) (*model.ConversationDetail, error) {
	conv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.FindByConversation(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("查询语音记录失败: %w", err)
	}
	if sessions == nil {
		sessions = []model.VoiceSession{}
	}
	return &model.ConversationDetail{Conversation: conv, VoiceSessions: sessions}, nil
}

// Create 以第一条消息创建会话，标题由消息文本截断得到。
func (s *conversationService) Create(ctx context.Context, userID uint, first model.Content) (*model.Conversation, error) {
	if isBlank(first) {
		return nil, ErrEmptyMessage
	}
	text := strings.TrimSpace(first.FirstText())
	title := "New Conversation"
	if text != "" {
		title = pipeline.TruncateTitle(text, s.opts.TitleMaxLen)
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		History:   model.History{model.UserTurn{Content: first, Timestamp: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	log.Infof("[ConversationService] 用户 %d 创建会话 %s", userID, conv.ID)
	return conv, nil
}

// Rename 修改会话标题。
func (s *conversationService) Rename(ctx context.Context, userID uint, id, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title must not be empty")
	}
	return s.conversations.UpdateTitle(ctx, id, userID, title)
}

// Delete 删除会话及其下属的语音记录。
func (s *conversationService) Delete(ctx context.Context, userID uint, id string) error {
	deleted, err := s.conversations.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return model.ErrConversationNotFound
	}
	n, err := s.sessions.DeleteByConversation(ctx, id, userID)
	if err != nil {
		log.Errorf("[ConversationService] 删除会话 %s 的语音记录失败: %v", id, err)
		return fmt.Errorf("删除语音记录失败: %w", err)
	}
	log.Infof("[ConversationService] 会话 %s 已删除, 级联删除语音记录 %d 条", id, n)
	return nil
}

// AddTTS 合成一段语音并作为单条 agent 转写的语音记录挂到会话下。
func (s *conversationService) AddTTS(ctx context.Context, userID uint, id, text, voiceID string) (*model.VoiceSession, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	if voiceID == "" {
		voiceID = s.opts.DefaultVoiceID
	}

	// 1. 合成音频
	audio, err := s.synthesizer.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, fmt.Errorf("语音合成失败: %w", err)
	}

	// 2. 上传到对象存储
	recordID := uuid.NewString()
	name := ttsObjectName(recordID)
	if err := s.store.Put(ctx, s.opts.Bucket, name, audio, "audio/mpeg"); err != nil {
		return nil, fmt.Errorf("上传合成音频失败: %w", err)
	}
	url := s.store.PublicURL(s.opts.Bucket, name)

	// 3. 写入记录
	convID := id
	session := &model.VoiceSession{
		ID:             recordID,
		UserID:         userID,
		SessionID:      "tts-" + recordID,
		ConversationID: &convID,
		AudioURL:       &url,
	}
	zero := 0.0
	if err := session.SetTranscript([]model.TranscriptEntry{{ID: 1, Speaker: model.SpeakerAgent, Text: text, Offset: &zero}}); err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if rmErr := s.store.Remove(ctx, s.opts.Bucket, name); rmErr != nil {
			log.Warnf("[ConversationService] 清理合成音频 %s 失败: %v", name, rmErr)
		}
		return nil, fmt.Errorf("保存语音记录失败: %w", err)
	}
	return session, nil
}

// DeleteTTS 删除会话下的一段合成语音及其音频对象。
func (s *conversationService) DeleteTTS(ctx context.Context, userID uint, id, audioID string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	session, err := s.sessions.FindByID(ctx, audioID)
	if err != nil || session.UserID != userID || session.ConversationID == nil || *session.ConversationID != id {
		return ErrVoiceSessionNotFound
	}
	if _, err := s.sessions.Delete(ctx, audioID, userID); err != nil {
		return fmt.Errorf("删除语音记录失败: %w", err)
	}
	if err := s.store.Remove(ctx, s.opts.Bucket, ttsObjectName(audioID)); err != nil {
		log.Warnf("[ConversationService] 删除音频对象失败, id: %s, error: %v", audioID, err)
	}
	return nil
}

// owned 读取会话并校验归属，不属于 userID 的会话视为不存在。
func (s *conversationService) owned(ctx context.Context, userID uint, id string) (*model.Conversation, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, model.ErrConversationNotFound
	}
	return conv, nil
}

func ttsObjectName(id string) string {
	return "tts/" + id + ".mp3"
}
