package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
	"voxchat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAttempts struct {
	counts map[string]int64
	err    error
}

func (m *memAttempts) IncrTaskAttempts(ctx context.Context, id string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[id]++
	return m.counts[id], nil
}

func (m *memAttempts) ClearTaskAttempts(ctx context.Context, id string) error {
	delete(m.counts, id)
	return nil
}

// sequentialReader 与 kafka.Reader 一样按顺序返回消息，不会重投未提交的消息；
// 提交某个 offset 即视为提交了它之前的全部消息。
type sequentialReader struct {
	msgs      []kafka.Message
	next      int
	committed []int64
}

func (r *sequentialReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.next >= len(r.msgs) {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[r.next]
	r.next++
	return m, nil
}

func (r *sequentialReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *sequentialReader) Close() error { return nil }

func taskMessage(t *testing.T, id string, offset int64) kafka.Message {
	b, err := json.Marshal(tasks.VoiceSessionTask{SessionID: id, UserID: 1})
	require.NoError(t, err)
	return kafka.Message{Value: b, Offset: offset}
}

// sessionProcessor 按会话 id 记录调用次数，并让指定会话先失败若干次。
type sessionProcessor struct {
	failures map[string]int
	calls    map[string]int
	order    []string
}

func (p *sessionProcessor) Process(ctx context.Context, task tasks.VoiceSessionTask) error {
	p.calls[task.SessionID]++
	p.order = append(p.order, task.SessionID)
	if p.failures[task.SessionID] > 0 {
		p.failures[task.SessionID]--
		return errors.New("db down")
	}
	return nil
}

func newTestConsumer(reader messageReader, proc TaskProcessor, attempts AttemptCounter) *Consumer {
	return &Consumer{reader: reader, processor: proc, attempts: attempts, retryDelay: time.Millisecond}
}

func TestConsumer_RetriesFailedTaskBeforeNextMessage(t *testing.T) {
	proc := &sessionProcessor{failures: map[string]int{"s-a": 1}, calls: map[string]int{}}
	attempts := &memAttempts{counts: map[string]int64{}}
	reader := &sequentialReader{msgs: []kafka.Message{taskMessage(t, "s-a", 0), taskMessage(t, "s-b", 1)}}

	newTestConsumer(reader, proc, attempts).Run(context.Background())
	assert.Equal(t, 2, proc.calls["s-a"])
	assert.Equal(t, 1, proc.calls["s-b"])
	assert.Equal(t, []string{"s-a", "s-a", "s-b"}, proc.order)
	assert.Equal(t, []int64{0, 1}, reader.committed)
	assert.Empty(t, attempts.counts, "counter is cleared after success")
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	proc := &sessionProcessor{failures: map[string]int{"s-a": 10}, calls: map[string]int{}}
	attempts := &memAttempts{counts: map[string]int64{}}
	reader := &sequentialReader{msgs: []kafka.Message{taskMessage(t, "s-a", 0), taskMessage(t, "s-b", 1)}}

	newTestConsumer(reader, proc, attempts).Run(context.Background())
	assert.Equal(t, maxTaskAttempts, proc.calls["s-a"])
	assert.Equal(t, 1, proc.calls["s-b"])
	assert.Equal(t, []int64{0, 1}, reader.committed)
}

func TestConsumer_CounterLimitsAttemptsAcrossRestarts(t *testing.T) {
	proc := &sessionProcessor{failures: map[string]int{"s-a": 10}, calls: map[string]int{}}
	// 上一个进程已经处理过两次
	attempts := &memAttempts{counts: map[string]int64{"s-a": 2}}
	reader := &sequentialReader{msgs: []kafka.Message{taskMessage(t, "s-a", 0)}}

	newTestConsumer(reader, proc, attempts).Run(context.Background())
	assert.Equal(t, 1, proc.calls["s-a"])
	assert.Equal(t, []int64{0}, reader.committed)
	assert.Empty(t, attempts.counts)
}

func TestConsumer_CounterFailureStillRetries(t *testing.T) {
	proc := &sessionProcessor{failures: map[string]int{"s-a": 1}, calls: map[string]int{}}
	c := newTestConsumer(nil, proc, &memAttempts{err: errors.New("redis down")})

	assert.True(t, c.handle(context.Background(), taskMessage(t, "s-a", 0)))
	assert.Equal(t, 2, proc.calls["s-a"])
}

func TestConsumer_MalformedMessageIsCommitted(t *testing.T) {
	proc := &sessionProcessor{calls: map[string]int{}}
	c := newTestConsumer(nil, proc, &memAttempts{counts: map[string]int64{}})

	assert.True(t, c.handle(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.True(t, c.handle(context.Background(), kafka.Message{Value: []byte(`{"user_id":1}`)}))
	assert.Empty(t, proc.calls)
}

func TestConsumer_CancelledTaskIsNotCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &sessionProcessor{failures: map[string]int{"s-a": 10}, calls: map[string]int{}}
	reader := &sequentialReader{msgs: []kafka.Message{taskMessage(t, "s-a", 0)}}
	c := newTestConsumer(reader, proc, &memAttempts{counts: map[string]int64{}})

	assert.False(t, c.handle(ctx, taskMessage(t, "s-a", 0)))
	assert.Empty(t, reader.committed)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
	assert.Nil(t, brokers(""))
}
