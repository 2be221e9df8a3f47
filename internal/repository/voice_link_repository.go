package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"voxchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ErrRegistrationNotFound 表示服务商会话 id 没有登记过。
var ErrRegistrationNotFound = errors.New("voice session registration not found")

// VoiceLinkRepository 保存语音会话的临时状态：会话登记、推送录音缓存与任务失败计数。
type VoiceLinkRepository interface {
	Register(ctx context.Context, reg model.SessionRegistration, ttl time.Duration) error
	GetRegistration(ctx context.Context, sessionID string) (*model.SessionRegistration, error)
	CachePushedAudio(ctx context.Context, sessionID string, audio []byte, ttl time.Duration) error
	GetPushedAudio(ctx context.Context, sessionID string) ([]byte, bool, error)
	DeletePushedAudio(ctx context.Context, sessionID string) error
	IncrTaskAttempts(ctx context.Context, sessionID string) (int64, error)
	ClearTaskAttempts(ctx context.Context, sessionID string) error
}

type redisVoiceLinkRepository struct {
	redisClient *redis.Client
}

// NewVoiceLinkRepository 创建一个新的 VoiceLinkRepository 实例。
func NewVoiceLinkRepository(redisClient *redis.Client) VoiceLinkRepository {
	return &redisVoiceLinkRepository{redisClient: redisClient}
}

func registrationKey(sessionID string) string {
	return fmt.Sprintf("voice:session:%s", sessionID)
}

func pushedAudioKey(sessionID string) string {
	return fmt.Sprintf("voice:audio:%s", sessionID)
}

func attemptsKey(sessionID string) string {
	return fmt.Sprintf("kafka:attempts:%s", sessionID)
}

// Register 登记服务商会话 id。
func (r *redisVoiceLinkRepository) Register(ctx context.Context, reg model.SessionRegistration, ttl time.Duration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}
	if err := r.redisClient.Set(ctx, registrationKey(reg.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

// GetRegistration 读取登记信息。
func (r *redisVoiceLinkRepository) GetRegistration(ctx context.Context, sessionID string) (*model.SessionRegistration, error) {
	data, err := r.redisClient.Get(ctx, registrationKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	var reg model.SessionRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registration: %w", err)
	}
	return &reg, nil
}

// CachePushedAudio 暂存推送的录音字节。
func (r *redisVoiceLinkRepository) CachePushedAudio(ctx context.Context, sessionID string, audio []byte, ttl time.Duration) error {
	if err := r.redisClient.Set(ctx, pushedAudioKey(sessionID), audio, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache pushed audio: %w", err)
	}
	return nil
}

// GetPushedAudio 读取暂存的录音。
func (r *redisVoiceLinkRepository) GetPushedAudio(ctx context.Context, sessionID string) ([]byte, bool, error) {
	data, err := r.redisClient.Get(ctx, pushedAudioKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get pushed audio: %w", err)
	}
	return data, true, nil
}

// DeletePushedAudio 删除暂存的录音。
func (r *redisVoiceLinkRepository) DeletePushedAudio(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, pushedAudioKey(sessionID)).Err()
}

// IncrTaskAttempts 递增对账任务失败次数，计数保留 24 小时。
func (r *redisVoiceLinkRepository) IncrTaskAttempts(ctx context.Context, sessionID string) (int64, error) {
	key := attemptsKey(sessionID)
	attempts, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.redisClient.Expire(ctx, key, 24*time.Hour).Err()
	return attempts, nil
}

// ClearTaskAttempts 清理失败计数。
func (r *redisVoiceLinkRepository) ClearTaskAttempts(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, attemptsKey(sessionID)).Err()
}
