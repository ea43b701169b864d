// Command ingester 消费行为事件，更新实时状态，检测即时兴趣并触发推荐刷新。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/config"
	"github.com/rushteam/recserve/ingest"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/store"
)

func main() {
	path := flag.String("config", os.Getenv("RECSERVE_CONFIG"), "path to YAML config file")
	flag.Parse()

	s, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingester: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(s.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, log); err != nil {
		log.Fatal().Err(err).Msg("ingester exited")
	}
	log.Info().Msg("ingester stopped")
}

func run(ctx context.Context, s *config.Settings, log zerolog.Logger) error {
	rdb, err := store.NewRedisClient(ctx, store.RedisOptions{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
		PoolSize: s.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()
	st := store.NewRedisStore(rdb)

	var archive ingest.Archive = ingest.NopArchive{}
	if s.Archive.DSN != "" {
		pg, err := ingest.OpenPostgresArchive(ctx, s.Archive.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		archive = pg
	}

	producer, err := ingest.NewProducerClient(s.Kafka)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer producer.Close()

	queue, err := ingest.NewKafkaQueue(s.Kafka, logging.Component(log, "queue"))
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	defer queue.Close()

	// 本地失效与刷新 Topic 同时通知，推荐服务的缓存与下游订阅方各取所需
	notifier := ingest.Notifiers{
		&ingest.CacheNotifier{Cache: cache.NewRedisCache(rdb, s.Cache.TTL)},
		ingest.NewKafkaNotifier(producer, s.Kafka.RefreshTopic),
	}

	wlog := logging.Component(log, "ingest")
	worker := ingest.NewWorker(st,
		ingest.WithArchive(archive),
		ingest.WithNotifier(notifier),
		ingest.WithLogger(wlog),
		ingest.WithRetry(s.Ingest.Retries, s.Ingest.Backoff),
		ingest.WithInterestThreshold(s.Ingest.InterestThreshold),
	)

	log.Info().
		Strs("brokers", s.Kafka.Brokers).
		Str("topic", s.Kafka.Topic).
		Str("group", s.Kafka.Group).
		Int("shards", s.Ingest.Shards).
		Msg("ingester starting")

	p := &ingest.Pipeline{
		Queue:  queue,
		Worker: worker,
		Shards: s.Ingest.Shards,
		Buffer: s.Ingest.Buffer,
		Log:    wlog,
	}
	return p.Run(ctx)
}
