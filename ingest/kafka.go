package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rushteam/recserve/core"
)

// 默认 Topic 与消费组。服务端上报与摄取消费使用同一个行为 Topic。
const (
	DefaultBehaviorTopic = "user-behavior"
	DefaultRefreshTopic  = "recommendation-refresh"
	DefaultConsumerGroup = "behavior-ingester"
)

// KafkaConfig Kafka 连接与生产者配置
type KafkaConfig struct {
	Brokers      []string `koanf:"brokers"`
	Topic        string   `koanf:"topic"`         // 行为事件 Topic
	RefreshTopic string   `koanf:"refresh_topic"` // 推荐刷新信号 Topic
	Group        string   `koanf:"group"`         // 消费组
	ClientID     string   `koanf:"client_id"`

	// 生产者
	BatchSize     int           `koanf:"batch_size"`     // 批量大小（建议 100-1000）
	FlushInterval time.Duration `koanf:"flush_interval"` // 刷新间隔
	RequiredAcks  int16         `koanf:"required_acks"`  // 1=leader, -1=all
	Compression   string        `koanf:"compression"`    // gzip, snappy, lz4, zstd
	MaxRetries    int           `koanf:"max_retries"`
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.Topic == "" {
		c.Topic = DefaultBehaviorTopic
	}
	if c.RefreshTopic == "" {
		c.RefreshTopic = DefaultRefreshTopic
	}
	if c.Group == "" {
		c.Group = DefaultConsumerGroup
	}
	if c.ClientID == "" {
		c.ClientID = "recserve"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// producerOpts 构建生产者选项
func (c KafkaConfig) producerOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(c.ClientID),
	}

	var acks kgo.Acks
	switch c.RequiredAcks {
	case -1:
		acks = kgo.AllISRAcks()
	default:
		acks = kgo.LeaderAck()
	}
	opts = append(opts, kgo.RequiredAcks(acks))
	if c.RequiredAcks != -1 {
		// 幂等写要求 acks=all
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if c.MaxRetries > 0 {
		opts = append(opts, kgo.RecordRetries(c.MaxRetries))
	}

	switch c.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}
	return opts
}

// NewProducerClient 创建 franz-go 生产者客户端
func NewProducerClient(cfg KafkaConfig) (*kgo.Client, error) {
	cfg = cfg.withDefaults()
	client, err := kgo.NewClient(cfg.producerOpts()...)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, err, "kafka producer")
	}
	return client, nil
}

// Producer 是 *kgo.Client 生产侧能力的子集，便于测试替换。
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

// KafkaQueue 基于消费组的 Kafka 队列。
// 关闭自动提交，只有 Ack 后才提交 offset，进程崩溃时未确认的消息会被重新投递。
type KafkaQueue struct {
	client *kgo.Client
	log    zerolog.Logger

	// 只由分发协程访问
	buf []*kgo.Record
}

// NewKafkaQueue 创建消费端
func NewKafkaQueue(cfg KafkaConfig, log zerolog.Logger) (*KafkaQueue, error) {
	cfg = cfg.withDefaults()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, err, "kafka consumer")
	}
	return &KafkaQueue{client: client, log: log}, nil
}

func (q *KafkaQueue) Receive(ctx context.Context) (*Message, error) {
	for len(q.buf) == 0 {
		fetches := q.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.log.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})
		q.buf = fetches.Records()
	}

	rec := q.buf[0]
	q.buf = q.buf[1:]
	return &Message{
		Key:       rec.Key,
		Value:     rec.Value,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		ack: func(ctx context.Context) error {
			return q.client.CommitRecords(ctx, rec)
		},
	}, nil
}

func (q *KafkaQueue) Close() error {
	q.client.Close()
	return nil
}

// KafkaEventSink 批量异步上报行为事件到 Kafka。
// 以 user_id 作为 key，同一用户的事件落在同一分区，保证消费顺序。
type KafkaEventSink struct {
	producer      Producer
	topic         string
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger

	mu        sync.Mutex
	buffer    []core.BehaviorEvent
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// NewKafkaEventSink 创建上报器。producer 通常为 NewProducerClient 的返回值。
func NewKafkaEventSink(producer Producer, cfg KafkaConfig, log zerolog.Logger) *KafkaEventSink {
	cfg = cfg.withDefaults()
	s := &KafkaEventSink{
		producer:      producer,
		topic:         cfg.Topic,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		log:           log,
		buffer:        make([]core.BehaviorEvent, 0, cfg.BatchSize),
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Send 写入缓冲，不阻塞。关闭后的写入被丢弃。
func (s *KafkaEventSink) Send(ctx context.Context, events ...core.BehaviorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.buffer = append(s.buffer, events...)
	if len(s.buffer) >= s.batchSize {
		go s.flush()
	}
	return nil
}

func (s *KafkaEventSink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			return
		}
	}
}

func (s *KafkaEventSink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	events := make([]core.BehaviorEvent, len(s.buffer))
	copy(events, s.buffer)
	s.buffer = s.buffer[:0]
	s.mu.Unlock()

	for _, ev := range events {
		data, err := EncodeEvent(ev)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("encode event")
			continue
		}
		record := &kgo.Record{Topic: s.topic, Key: []byte(ev.UserID), Value: data}
		s.producer.Produce(context.Background(), record, func(r *kgo.Record, err error) {
			if err != nil {
				s.log.Warn().Err(err).Str("topic", r.Topic).Msg("produce event failed")
			}
		})
	}
}

// Close 刷出剩余缓冲并关闭客户端
func (s *KafkaEventSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stopCh)
		s.wg.Wait()
		s.flush()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.producer.Flush(ctx)
		s.producer.Close()
	})
	return err
}

// KafkaNotifier 将刷新信号同步发布到刷新 Topic。
type KafkaNotifier struct {
	producer Producer
	topic    string
}

// NewKafkaNotifier 创建通知器；topic 为空时使用 DefaultRefreshTopic。
func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultRefreshTopic
	}
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, sig RefreshSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: n.topic, Key: []byte(sig.UserID), Value: data}
	return n.producer.ProduceSync(ctx, rec).FirstErr()
}

var (
	_ Queue          = (*KafkaQueue)(nil)
	_ core.EventSink = (*KafkaEventSink)(nil)
	_ Producer       = (*kgo.Client)(nil)
)
