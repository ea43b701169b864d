package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/metrics"
)

// Stage 是单个事件在摄取链路中到达的阶段，严格按顺序推进。
type Stage int

const (
	StageReceived Stage = iota
	StagePersisted
	StageStateUpdated
	StageInterestChecked
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StagePersisted:
		return "persisted_raw"
	case StageStateUpdated:
		return "state_updated"
	case StageInterestChecked:
		return "interest_checked"
	case StageDone:
		return "stats_updated"
	}
	return "unknown"
}

// Outcome 是单个事件的处理结果。
type Outcome struct {
	Stage    Stage
	Interest bool // 是否触发了即时兴趣
}

// Worker 处理单个行为事件：归档、更新实时状态、检测即时兴趣、统计。
//
// 状态写入失败会按退避重试；重试耗尽后返回错误，调用方不应确认该消息。
type Worker struct {
	state     core.StateStore
	archive   Archive
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time
	retries   int
	backoff   time.Duration
	threshold int
}

// WorkerOption 配置 Worker。
type WorkerOption func(*Worker)

func WithArchive(a Archive) WorkerOption { return func(w *Worker) { w.archive = a } }
func WithNotifier(n Notifier) WorkerOption { return func(w *Worker) { w.notifier = n } }
func WithLogger(l zerolog.Logger) WorkerOption { return func(w *Worker) { w.log = l } }
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// WithRetry 设置状态写入的重试次数与初始退避。
func WithRetry(retries int, backoff time.Duration) WorkerOption {
	return func(w *Worker) {
		w.retries = retries
		w.backoff = backoff
	}
}

// WithInterestThreshold 设置即时兴趣阈值。
func WithInterestThreshold(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.threshold = n
		}
	}
}

// NewWorker 创建 Worker。
func NewWorker(state core.StateStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		state:     state,
		archive:   NopArchive{},
		log:       zerolog.Nop(),
		now:       time.Now,
		retries:   3,
		backoff:   50 * time.Millisecond,
		threshold: core.InterestThreshold,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle 解码并处理一条消息，成功后确认。
// 无法解析的消息计数后直接确认，避免阻塞分区。
func (w *Worker) Handle(ctx context.Context, msg *Message) error {
	ev, err := DecodeEvent(msg.Value)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("malformed").Inc()
		w.log.Warn().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("skip malformed event")
		return w.ack(ctx, msg)
	}
	if _, err := w.Process(ctx, ev); err != nil {
		return err
	}
	return w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg *Message) error {
	if err := msg.Ack(ctx); err != nil {
		// 提交失败的消息会被重新投递，状态写入允许重复
		w.log.Warn().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("ack failed")
	}
	return nil
}

// Process 按阶段处理一个已解码的事件。
func (w *Worker) Process(ctx context.Context, ev core.BehaviorEvent) (Outcome, error) {
	start := w.now()
	out := Outcome{Stage: StageReceived}
	log := w.log.With().Str("user_id", ev.UserID).Str("item_id", ev.ItemID).Str("action", string(ev.Action)).Logger()

	if err := w.archive.Store(ctx, ev); err != nil {
		metrics.Fallbacks.WithLabelValues("archive").Inc()
		log.Warn().Err(err).Msg("archive failed")
	}
	out.Stage = StagePersisted

	// 曝光不进入实时状态，避免污染最近交互列表
	if ev.Action != core.ActionImpression {
		if err := w.updateState(ctx, ev); err != nil {
			metrics.IngestEvents.WithLabelValues("state_error").Inc()
			return out, fmt.Errorf("ingest: update state for %s: %w", ev.UserID, err)
		}
		out.Stage = StageStateUpdated

		out.Interest = w.checkInterest(ctx, ev, log)
	}
	out.Stage = StageInterestChecked

	metrics.IngestEvents.WithLabelValues("ok").Inc()
	metrics.IngestLatency.Observe(w.now().Sub(start).Seconds())
	out.Stage = StageDone
	return out, nil
}

func (w *Worker) updateState(ctx context.Context, ev core.BehaviorEvent) error {
	now := w.now()
	if err := w.retry(ctx, func() error {
		return w.state.PushRecentItem(ctx, ev.UserID, ev.ItemID)
	}); err != nil {
		return err
	}
	if err := w.retry(ctx, func() error {
		_, err := w.state.IncrActionCount(ctx, ev.UserID, core.HourBucket(now), ev.Action)
		return err
	}); err != nil {
		return err
	}
	ts := core.EventTime(ev.Timestamp, now).Unix()
	return w.retry(ctx, func() error {
		return w.state.AppendSequenceEvent(ctx, ev.UserID, ts, ev.ItemID)
	})
}

// retry 执行 fn，失败后按指数退避重试。
func (w *Worker) retry(ctx context.Context, fn func() error) error {
	backoff := w.backoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= w.retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// checkInterest 最近交互中同一物品达到阈值时发出刷新信号。
func (w *Worker) checkInterest(ctx context.Context, ev core.BehaviorEvent, log zerolog.Logger) bool {
	recent, err := w.state.RecentItems(ctx, ev.UserID, core.RecentItemsCapacity)
	if err != nil {
		log.Warn().Err(err).Msg("interest check skipped")
		return false
	}
	count := 0
	for _, id := range recent {
		if id == ev.ItemID {
			count++
		}
	}
	if count < w.threshold {
		return false
	}

	metrics.InterestSignals.Inc()
	log.Info().Int("count", count).Msg("instant interest detected")
	if w.notifier != nil {
		sig := RefreshSignal{UserID: ev.UserID, Reason: ReasonInstantInterest}
		if err := w.notifier.Notify(ctx, sig); err != nil {
			log.Warn().Err(err).Msg("refresh notify failed")
		}
	}
	return true
}
