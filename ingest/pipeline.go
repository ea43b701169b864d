package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pipeline 从 Queue 取消息并分发给多个 shard 并发处理。
//
// 同一分区的消息固定路由到同一 shard（partition % shards），
// 因此同一用户的事件按到达顺序串行处理，offset 也按顺序确认。
type Pipeline struct {
	Queue  Queue
	Worker *Worker
	Shards int // 默认 4
	Buffer int // 每个 shard 的通道容量，默认 64
	Log    zerolog.Logger
}

// Run 阻塞运行直到 ctx 取消、队列关闭或某个 shard 返回错误。
// 正常退出返回 nil；处理失败的消息未被确认，重启后会被重新投递。
func (p *Pipeline) Run(ctx context.Context) error {
	shards := p.Shards
	if shards <= 0 {
		shards = 4
	}
	buffer := p.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	g, gctx := errgroup.WithContext(ctx)
	chans := make([]chan *Message, shards)
	for i := range chans {
		ch := make(chan *Message, buffer)
		chans[i] = ch
		g.Go(func() error {
			for msg := range ch {
				// 停止后剩余消息不再处理，留给下次消费
				if gctx.Err() != nil {
					return nil
				}
				if err := p.Worker.Handle(gctx, msg); err != nil {
					p.Log.Error().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("event processing failed, stopping")
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for {
			msg, err := p.Queue.Receive(gctx)
			if err != nil {
				if errors.Is(err, ErrQueueClosed) || gctx.Err() != nil {
					return nil
				}
				return err
			}
			shard := int(msg.Partition) % shards
			if shard < 0 {
				shard = -shard
			}
			select {
			case chans[shard] <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}
