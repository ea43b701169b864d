package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/rushteam/recserve/core"
)

// ErrQueueClosed 表示队列已关闭，消费方应正常退出。
var ErrQueueClosed = errors.New("ingest: queue closed")

// Message 是从队列取出的一条原始消息。
// 处理完成（包括判定为坏消息而跳过）后必须调用 Ack；未 Ack 的消息在重启后会被重新投递。
type Message struct {
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64

	ack func(ctx context.Context) error
}

// Ack 确认消息已处理。
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Queue 是行为事件流的消费端抽象。
//
// 设计原则：
//   - Receive 阻塞直到有消息、ctx 取消或队列关闭（返回 ErrQueueClosed）
//   - 至少一次投递：同一消息可能被投递多次
//   - 同一分区内的消息按顺序交付，Partition 决定由哪个 shard 处理
//   - Receive 只由单个分发协程调用
type Queue interface {
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// MemoryQueue 是进程内队列，用于测试与单机部署。
// 按 key 哈希分区，保证同一用户的事件落在同一分区。
// 同时实现 core.EventSink，服务端上报的事件可直接回流到进程内的消费管道。
type MemoryQueue struct {
	partitions int
	ch         chan *Message

	mu     sync.Mutex
	offset int64
	closed bool
	done   chan struct{}

	acked atomic.Int64
}

// NewMemoryQueue 创建队列。buffer 为通道容量。
func NewMemoryQueue(partitions, buffer int) *MemoryQueue {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryQueue{
		partitions: partitions,
		ch:         make(chan *Message, buffer),
		done:       make(chan struct{}),
	}
}

// Publish 写入一条消息，队列满时阻塞直到 ctx 取消。
func (q *MemoryQueue) Publish(ctx context.Context, key, value []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.offset++
	msg := &Message{
		Key:       key,
		Value:     value,
		Partition: q.partitionOf(key),
		Offset:    q.offset,
	}
	q.mu.Unlock()
	msg.ack = func(context.Context) error {
		q.acked.Add(1)
		return nil
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send 实现 core.EventSink，以 user_id 为 key 写入事件。
func (q *MemoryQueue) Send(ctx context.Context, events ...core.BehaviorEvent) error {
	for _, ev := range events {
		data, err := EncodeEvent(ev)
		if err != nil {
			return err
		}
		if err := q.Publish(ctx, []byte(ev.UserID), data); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Acked 返回已确认的消息数。
func (q *MemoryQueue) Acked() int64 { return q.acked.Load() }

// Len 返回尚未被取走的消息数。
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *MemoryQueue) partitionOf(key []byte) int32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int32(h.Sum32() % uint32(q.partitions))
}

var (
	_ Queue          = (*MemoryQueue)(nil)
	_ core.EventSink = (*MemoryQueue)(nil)
)
