package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"voxchat-go/pkg/elevenlabs"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/storage"

	"github.com/sethvargo/go-retry"
)

// ErrAudioNotFound 表示某个来源当前没有这段录音，解析器会继续尝试下一个来源。
var ErrAudioNotFound = errors.New("audio not found")

const audioContentType = "audio/mpeg"

// ObjectName 返回会话录音在对象存储中的确定性名称。
func ObjectName(sessionID string) string {
	return sessionID + ".mp3"
}

// AudioSource 是一个录音来源。成功时返回录音的公开地址；没有录音时返回 ErrAudioNotFound。
type AudioSource interface {
	Name() string
	Fetch(ctx context.Context, sessionID string) (string, error)
}

// PushCache 暂存推送通知送达、但未能写入对象存储的录音。
type PushCache interface {
	GetPushedAudio(ctx context.Context, sessionID string) ([]byte, bool, error)
	DeletePushedAudio(ctx context.Context, sessionID string) error
}

// RecordingFetcher 从服务商拉取会话录音。
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, sessionID string) ([]byte, error)
}

// objectStoreSource 检查对象存储中是否已有同名对象，命中时不下载字节。
type objectStoreSource struct {
	store  storage.ObjectStore
	bucket string
}

// NewObjectStoreSource 创建对象存储来源。
func NewObjectStoreSource(store storage.ObjectStore, bucket string) AudioSource {
	return &objectStoreSource{store: store, bucket: bucket}
}

func (s *objectStoreSource) Name() string { return "object-store" }

func (s *objectStoreSource) Fetch(ctx context.Context, sessionID string) (string, error) {
	name := ObjectName(sessionID)
	names, err := s.store.List(ctx, s.bucket, name)
	if err != nil {
		return "", err
	}
	// 按前缀列举可能返回其他对象，必须精确匹配
	for _, n := range names {
		if n == name {
			return s.store.PublicURL(s.bucket, name), nil
		}
	}
	return "", ErrAudioNotFound
}

// pushCacheSource 读取推送缓存中的录音，上传后清除缓存。
type pushCacheSource struct {
	cache  PushCache
	store  storage.ObjectStore
	bucket string
}

// NewPushCacheSource 创建推送缓存来源。
func NewPushCacheSource(cache PushCache, store storage.ObjectStore, bucket string) AudioSource {
	return &pushCacheSource{cache: cache, store: store, bucket: bucket}
}

func (s *pushCacheSource) Name() string { return "push-cache" }

func (s *pushCacheSource) Fetch(ctx context.Context, sessionID string) (string, error) {
	audio, ok, err := s.cache.GetPushedAudio(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok || len(audio) == 0 {
		return "", ErrAudioNotFound
	}
	url, err := upload(ctx, s.store, s.bucket, sessionID, audio)
	if err != nil {
		return "", err
	}
	if err := s.cache.DeletePushedAudio(ctx, sessionID); err != nil {
		log.Warnf("[AudioResolver] 清除推送缓存失败, session: %s, error: %v", sessionID, err)
	}
	return url, nil
}

// pullSource 从服务商拉取录音：仅在“尚未就绪”时以固定间隔重试。
type pullSource struct {
	fetcher  RecordingFetcher
	store    storage.ObjectStore
	bucket   string
	attempts int
	delay    time.Duration
}

// NewPullSource 创建拉取来源。attempts 为总尝试次数（包含第一次）。
func NewPullSource(fetcher RecordingFetcher, store storage.ObjectStore, bucket string, attempts int, delay time.Duration) AudioSource {
	if attempts < 1 {
		attempts = 1
	}
	return &pullSource{fetcher: fetcher, store: store, bucket: bucket, attempts: attempts, delay: delay}
}

func (s *pullSource) Name() string { return "pull" }

func (s *pullSource) Fetch(ctx context.Context, sessionID string) (string, error) {
	var audio []byte
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewConstant(s.delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		log.Infof("[AudioResolver] 拉取录音 (第 %d/%d 次): %s", attempt, s.attempts, sessionID)
		data, err := s.fetcher.FetchRecording(ctx, sessionID)
		if err != nil {
			if elevenlabs.IsNotReady(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		audio = data
		return nil
	})
	if err != nil {
		if elevenlabs.IsNotReady(err) {
			return "", ErrAudioNotFound
		}
		return "", fmt.Errorf("拉取录音失败: %w", err)
	}
	if len(audio) == 0 {
		return "", ErrAudioNotFound
	}
	return upload(ctx, s.store, s.bucket, sessionID, audio)
}

func upload(ctx context.Context, store storage.ObjectStore, bucket, sessionID string, audio []byte) (string, error) {
	name := ObjectName(sessionID)
	if err := store.Put(ctx, bucket, name, audio, audioContentType); err != nil {
		return "", err
	}
	return store.PublicURL(bucket, name), nil
}

// AudioResolver 按优先级依次尝试各来源，所有来源共享一个总等待预算。
type AudioResolver struct {
	sources []AudioSource
	budget  time.Duration
}

// NewAudioResolver 创建解析器。budget 为 0 表示不限制总时长。
func NewAudioResolver(budget time.Duration, sources ...AudioSource) *AudioResolver {
	return &AudioResolver{sources: sources, budget: budget}
}

// Resolve 返回录音的公开地址；所有来源都失败时 ok 为 false，这不是错误。
func (r *AudioResolver) Resolve(ctx context.Context, sessionID string) (string, bool) {
	if r.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}
	for _, src := range r.sources {
		if ctx.Err() != nil {
			log.Warnf("[AudioResolver] 超出等待预算, session: %s", sessionID)
			return "", false
		}
		url, err := src.Fetch(ctx, sessionID)
		if err == nil {
			log.Infof("[AudioResolver] 从 %s 获取到录音: %s", src.Name(), url)
			return url, true
		}
		if !errors.Is(err, ErrAudioNotFound) {
			log.Warnf("[AudioResolver] 来源 %s 失败, session: %s, error: %v", src.Name(), sessionID, err)
		}
	}
	log.Infof("[AudioResolver] 所有来源都没有录音: %s", sessionID)
	return "", false
}
