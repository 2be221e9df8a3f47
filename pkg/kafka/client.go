// Package kafka 提供了与 Kafka 消息队列交互的功能：投递与消费语音会话对账任务。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"voxchat-go/internal/config"
	"voxchat-go/pkg/log"
	"voxchat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

const (
	// maxTaskAttempts 是同一会话任务的最大处理次数。
	maxTaskAttempts = 3
	// taskRetryDelay 是两次处理之间的间隔。
	taskRetryDelay = 2 * time.Second
)

var errAttemptsExhausted = errors.New("voice task attempts exhausted")

// TaskProcessor 处理一个语音会话对账任务，使消费者与具体的流水线实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.VoiceSessionTask) error
}

// AttemptCounter 记录任务处理次数，成功后清零。
type AttemptCounter interface {
	IncrTaskAttempts(ctx context.Context, sessionID string) (int64, error)
	ClearTaskAttempts(ctx context.Context, sessionID string) error
}

// Producer 投递对账任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers(cfg.Brokers)...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// PublishVoiceTask 发送一个对账任务，以会话 id 作为消息 key，保证同一会话的任务进入同一分区。
func (p *Producer) PublishVoiceTask(ctx context.Context, task tasks.VoiceSessionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SessionID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是消费者用到的 kafka.Reader 能力。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费对账任务。FetchMessage 之后读位置已经前移，提交后续 offset 也会隐式提交当前消息，
// 所以失败的任务在本地按固定间隔重试，达到上限后提交并放弃。Redis 计数跨进程重启累计尝试次数。
type Consumer struct {
	reader     messageReader
	processor  TaskProcessor
	attempts   AttemptCounter
	topic      string
	retryDelay time.Duration
}

// NewConsumer 创建 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, attempts: attempts, topic: cfg.Topic, retryDelay: taskRetryDelay}
}

// Run 持续消费直到 ctx 被取消或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		if !c.handle(ctx, m) {
			// 停机时中断的任务不提交，重启后由 Kafka 重新投递
			break
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 处理一条消息，返回是否应当提交 offset。只有 ctx 被取消导致处理中断时返回 false。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.VoiceSessionTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.SessionID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	backoff := retry.WithMaxRetries(maxTaskAttempts-1, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt, incErr := c.attempts.IncrTaskAttempts(ctx, task.SessionID)
		if incErr == nil && attempt > maxTaskAttempts {
			return errAttemptsExhausted
		}
		if err := c.processor.Process(ctx, task); err != nil {
			log.Errorf("处理语音会话任务失败: session=%s, attempt=%d, error: %v", task.SessionID, attempt, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		log.Infof("语音会话任务处理成功: session=%s", task.SessionID)
		_ = c.attempts.ClearTaskAttempts(ctx, task.SessionID)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	log.Errorf("语音会话任务多次失败(>=%d)，提交 offset 终止重试: session=%s, error: %v", maxTaskAttempts, task.SessionID, err)
	// 已提交的任务不会再投递，同一会话之后的新任务重新计数
	_ = c.attempts.ClearTaskAttempts(ctx, task.SessionID)
	return true
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
