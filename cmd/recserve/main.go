// Command recserve 是推荐服务进程：HTTP 接口、推荐 Pipeline 与实验引擎。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/config"
	_ "github.com/rushteam/recserve/config/builders"
	"github.com/rushteam/recserve/experiment"
	"github.com/rushteam/recserve/feature"
	"github.com/rushteam/recserve/ingest"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/recommend"
	"github.com/rushteam/recserve/server"
	"github.com/rushteam/recserve/store"
)

func main() {
	path := flag.String("config", os.Getenv("RECSERVE_CONFIG"), "path to YAML config file")
	flag.Parse()

	s, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recserve: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(s.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, log); err != nil {
		log.Fatal().Err(err).Msg("recserve exited")
	}
	log.Info().Msg("recserve stopped")
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

	features, err := newFeatureService(s, st, log)
	if err != nil {
		return err
	}

	scorers, schema, err := config.BuildScorers(s.Model)
	if err != nil {
		return err
	}
	pcfg, err := config.LoadPipelineConfig(*s)
	if err != nil {
		return err
	}
	p, err := config.BuildPipeline(pcfg, config.Deps{
		Recall:        st,
		State:         st,
		Features:      features,
		Scorers:       scorers,
		Schema:        schema,
		ScorerBreaker: breaker.New[[]float64](s.Model.Breaker, log),
		Log:           logging.Component(log, "pipeline"),
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	p.Hooks = append(p.Hooks, pipeline.ObserveHook(logging.Component(log, "pipeline")))

	engine, err := newExperimentEngine(ctx, s, rdb, log)
	if err != nil {
		return err
	}

	producer, err := ingest.NewProducerClient(s.Kafka)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	sink := ingest.NewKafkaEventSink(producer, s.Kafka, logging.Component(log, "event_sink"))
	defer sink.Close()

	var respCache cache.Cache
	switch s.Cache.Backend {
	case "memory":
		respCache = cache.NewMemoryCache(s.Cache.TTL)
	default:
		respCache = cache.NewRedisCache(rdb, s.Cache.TTL)
	}

	svc := recommend.New(p, features,
		recommend.WithCache(respCache),
		recommend.WithExperiments(engine),
		recommend.WithEventSink(sink),
		recommend.WithLogger(logging.Component(log, "recommend")),
		recommend.WithDefaultModelVersion(s.Model.Default),
		recommend.WithHealthCheck("redis", st.Ping),
	)

	log.Info().
		Str("addr", s.Server.Addr).
		Str("pipeline", pcfg.Pipeline.Name).
		Strs("experiments", engine.Registry().Active()).
		Msg("recserve starting")
	return server.New(s.Server, svc, logging.Component(log, "http")).Run(ctx)
}

func newFeatureService(s *config.Settings, st *store.RedisStore, log zerolog.Logger) (*feature.Aggregator, error) {
	var provider feature.Provider
	switch s.Feature.Provider {
	case "feast":
		fp, err := feature.NewFeastProvider(s.Feature.Feast)
		if err != nil {
			return nil, fmt.Errorf("feast provider: %w", err)
		}
		provider = fp
	case "redis":
		provider = feature.NewStoreProvider(st)
	}
	return feature.NewAggregator(st, provider,
		feature.WithTimeout(s.Feature.Timeout),
		feature.WithItemCache(feature.NewMemoryItemCache(s.Feature.ItemCacheSize, s.Feature.ItemCacheTTL)),
		feature.WithBreaker(s.Feature.Breaker),
		feature.WithLogger(logging.Component(log, "feature")),
	), nil
}

func newExperimentEngine(ctx context.Context, s *config.Settings, rdb redis.UniversalClient, log zerolog.Logger) (*experiment.Engine, error) {
	seed := experiment.DefaultExperiments()
	if s.Experiment.SeedFile != "" {
		exps, err := experiment.LoadExperiments(s.Experiment.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = exps
	}

	var (
		cfgStore experiment.ConfigStore
		counters experiment.CounterStore
	)
	switch s.Experiment.Backend {
	case "memory":
		cfgStore = experiment.NewMemoryConfigStore()
		counters = experiment.NewMemoryCounterStore()
	default:
		cfgStore = experiment.NewRedisConfigStore(rdb)
		counters = experiment.NewRedisCounterStore(rdb)
	}

	elog := logging.Component(log, "experiment")
	reg, err := experiment.NewRegistry(ctx, cfgStore, elog, seed...)
	if err != nil {
		return nil, fmt.Errorf("experiment registry: %w", err)
	}
	return experiment.NewEngine(reg, counters,
		experiment.WithAssignmentTTL(s.Experiment.AssignmentTTL),
		experiment.WithEngineLogger(elog),
	), nil
}
