package recommend

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/experiment"
	"github.com/rushteam/recserve/feature"
	"github.com/rushteam/recserve/ingest"
	"github.com/rushteam/recserve/model"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/rank"
	"github.com/rushteam/recserve/recall"
	"github.com/rushteam/recserve/rerank"
	"github.com/rushteam/recserve/store"
)

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	cache  *cache.MemoryCache
	queue  *ingest.MemoryQueue
	engine *experiment.Engine
}

func seedCatalog(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	items := []struct {
		id, category, popularity, purchaseRate string
	}{
		{"i1", "shoes", "4", "0.2"},
		{"i2", "bags", "3", "0.05"},
		{"i3", "shoes", "2", "0.01"},
		{"i4", "hats", "1", "0.3"},
	}
	for i, it := range items {
		_ = s.ZAdd(ctx, store.PopularKey("home"), float64(100-i), it.id)
		_ = s.HSet(ctx, store.ItemFeatureKey(it.id), map[string]string{
			"category":         it.category,
			"popularity_score": it.popularity,
			"purchase_rate":    it.purchaseRate,
		})
	}
}

func newFixture(t *testing.T, exps ...*experiment.Experiment) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	seedCatalog(t, s)

	agg := feature.NewAggregator(s, feature.NewStoreProvider(s))
	reason, err := rerank.NewReasonNode(nil, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("reason node: %v", err)
	}
	v2 := model.NewLRScorer("lr_v2", 0, map[string]float64{model.FeaturePopularity: -1}, model.DefaultSchema())
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&recall.Fanout{Sources: []recall.Source{&recall.Popular{Store: s}}, Timeout: time.Second},
		&feature.EnrichNode{FeatureService: agg},
		&rank.ModelNode{Scorers: map[string]model.Scorer{"v2": v2}},
		&rerank.TopNNode{},
		reason,
	}}

	reg, err := experiment.NewRegistry(ctx, experiment.NewMemoryConfigStore(), zerolog.Nop(), exps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := experiment.NewEngine(reg, experiment.NewMemoryCounterStore())

	c := cache.NewMemoryCache(time.Minute)
	q := ingest.NewMemoryQueue(1, 256)
	ids := 0
	svc := New(p, agg,
		WithCache(c),
		WithExperiments(engine),
		WithEventSink(q),
		WithRequestIDGenerator(func() string {
			ids++
			return "req-" + string(rune('0'+ids))
		}),
		WithHealthCheck("state", s.Ping),
	)
	return &fixture{svc: svc, store: s, cache: c, queue: q, engine: engine}
}

func itemIDs(recs []core.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ItemID)
	}
	return out
}

func TestService_RecommendCachesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Recommend(ctx, core.Request{UserID: "u1", Num: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if first.Cached {
		t.Fatal("first call should miss the cache")
	}
	if got := itemIDs(first.Recommendations); !reflect.DeepEqual(got, []string{"i1", "i2", "i3"}) {
		t.Fatalf("items = %v", got)
	}
	if first.ModelVersion != rank.FallbackModelVersion {
		t.Fatalf("model_version = %q", first.ModelVersion)
	}
	if first.Recommendations[0].Reason != rerank.ReasonTrending || first.Recommendations[1].Reason != rerank.ReasonDefault {
		t.Fatalf("reasons = %+v", first.Recommendations)
	}
	if first.RequestID != "req-1" || first.ExperimentID != "" {
		t.Fatalf("request_id=%q experiment_id=%q", first.RequestID, first.ExperimentID)
	}

	second, err := f.svc.Recommend(ctx, core.Request{UserID: "u1", Num: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !second.Cached || !reflect.DeepEqual(second.Recommendations, first.Recommendations) {
		t.Fatalf("second = %+v", second)
	}
	if second.ModelVersion != first.ModelVersion {
		t.Fatalf("cached model_version = %q", second.ModelVersion)
	}

	// 两次请求各上报 3 条曝光
	if n := f.queue.Len(); n != 6 {
		t.Fatalf("forwarded impressions = %d, want 6", n)
	}

	excluded, err := f.svc.Recommend(ctx, core.Request{UserID: "u1", Num: 3, ExcludeItemIDs: []string{"i2"}})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if got := itemIDs(excluded.Recommendations); !reflect.DeepEqual(got, []string{"i1", "i3"}) {
		t.Fatalf("excluded items = %v", got)
	}
}

func TestService_RecommendWithExperiment(t *testing.T) {
	exp := &experiment.Experiment{
		ID:     "rank_exp",
		Status: experiment.StatusActive,
		Variants: experiment.VariantList{
			{Name: "control", Weight: 0},
			{Name: "treatment", Weight: 1, Params: map[string]any{"model": "v2"}},
		},
		Metrics: []string{"click"},
	}
	f := newFixture(t, exp)
	ctx := context.Background()

	resp, err := f.svc.Recommend(ctx, core.Request{UserID: "u1", Num: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if resp.ExperimentID != "rank_exp" || resp.Experiments["rank_exp"] != "treatment" {
		t.Fatalf("experiment = %q %v", resp.ExperimentID, resp.Experiments)
	}
	if resp.ModelVersion != "lr_v2" {
		t.Fatalf("model_version = %q", resp.ModelVersion)
	}
	if got := itemIDs(resp.Recommendations); !reflect.DeepEqual(got, []string{"i4", "i3"}) {
		t.Fatalf("items = %v", got)
	}

	// 无 request_id 不记转化
	if err := f.svc.TrackEvent(ctx, TrackEvent{UserID: "u1", ItemID: "i4", Action: "click"}); err != nil {
		t.Fatalf("TrackEvent: %v", err)
	}
	if err := f.svc.TrackEvent(ctx, TrackEvent{UserID: "u1", ItemID: "i4", Action: "click", RequestID: resp.RequestID}); err != nil {
		t.Fatalf("TrackEvent: %v", err)
	}
	// 未曝光用户的转化被丢弃
	if err := f.svc.TrackEvent(ctx, TrackEvent{UserID: "u9", ItemID: "i4", Action: "click", RequestID: "r-x"}); err != nil {
		t.Fatalf("TrackEvent: %v", err)
	}

	res, err := f.engine.Results(ctx, "rank_exp")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	var treatment experiment.VariantResult
	for _, v := range res.Variants {
		if v.Variant == "treatment" {
			treatment = v
		}
	}
	if treatment.ExposureCount != 1 {
		t.Fatalf("exposures = %d, want 1", treatment.ExposureCount)
	}
	if m := treatment.Metrics["click"]; m.Count != 1 || m.Total != 1 {
		t.Fatalf("click metric = %+v", m)
	}
}

func TestService_RecommendErrors(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Recommend(context.Background(), core.Request{})
		if !core.IsInvalidInput(err) {
			t.Fatalf("err = %v, want invalid input", err)
		}
	})

	t.Run("cancelled request is not cached", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := f.svc.Recommend(ctx, core.Request{UserID: "u1"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if _, ok, _ := f.cache.Get(context.Background(), "u1", core.DefaultPageType); ok {
			t.Fatal("cancelled request wrote the cache")
		}
	})

	t.Run("cancelled request records no exposure", func(t *testing.T) {
		f := newFixture(t, &experiment.Experiment{
			ID:       "expA",
			Status:   experiment.StatusActive,
			Variants: experiment.VariantList{{Name: "control", Weight: 1}, {Name: "treatment", Weight: 1}},
			Metrics:  []string{"click"},
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := f.svc.Recommend(ctx, core.Request{UserID: "u1"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		res, err := f.engine.Results(context.Background(), "expA")
		if err != nil {
			t.Fatalf("Results: %v", err)
		}
		for _, v := range res.Variants {
			if v.ExposureCount != 0 {
				t.Fatalf("%s exposures = %d, want 0", v.Variant, v.ExposureCount)
			}
		}
		if _, ok, _ := f.engine.Assignment(context.Background(), "u1", "expA"); ok {
			t.Fatal("cancelled request persisted an assignment")
		}
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		p := &pipeline.Pipeline{Nodes: []pipeline.Node{panicNode{}}}
		svc := New(p, feature.NewAggregator(s, nil), WithRequestIDGenerator(func() string { return "req-boom" }))

		_, err := svc.Recommend(context.Background(), core.Request{UserID: "u1"})
		de := core.GetDomainError(err)
		if de == nil || de.Code != core.ErrorCodeInternalError || !strings.Contains(err.Error(), "req-boom") {
			t.Fatalf("err = %v", err)
		}
		if id, ok := RequestIDOf(err); !ok || id != "req-boom" {
			t.Fatalf("request id = %q %v", id, ok)
		}
	})
}

type panicNode struct{}

func (panicNode) Name() string        { return "test.panic" }
func (panicNode) Kind() pipeline.Kind { return pipeline.KindRank }
func (panicNode) Process(context.Context, *core.RecommendContext, []*core.Item) ([]*core.Item, error) {
	panic("boom")
}

func TestService_RefreshAndDebug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Recommend(ctx, core.Request{UserID: "u1", PageType: "home"}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if _, ok, _ := f.cache.Get(ctx, "u1", "home"); !ok {
		t.Fatal("expected cache entry")
	}
	if err := f.svc.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok, _ := f.cache.Get(ctx, "u1", "home"); ok {
		t.Fatal("cache entry survived refresh")
	}
	if err := f.svc.Refresh(ctx, ""); !core.IsInvalidInput(err) {
		t.Fatalf("Refresh(\"\") err = %v", err)
	}

	item := f.svc.ItemFeatures(ctx, "i1")
	if item["category"] != "shoes" {
		t.Fatalf("item features = %v", item)
	}
	user := f.svc.UserFeatures(ctx, "u1")
	if _, ok := user["recent_items"]; !ok || user["ctr"] != 0.0 {
		t.Fatalf("user features = %v", user)
	}

	status, ok := f.svc.Health(ctx)
	if !ok || status["state"] != "ok" {
		t.Fatalf("health = %v %v", status, ok)
	}
}

func TestService_TrackEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.TrackEvent(ctx, TrackEvent{UserID: "u1", ItemID: "i1", Action: "like"}); !core.IsInvalidInput(err) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if err := f.svc.TrackEvent(ctx, TrackEvent{ItemID: "i1", Action: "click"}); !core.IsInvalidInput(err) {
		t.Fatalf("err = %v, want invalid input", err)
	}

	ts := 1700000000.9
	if err := f.svc.TrackEvent(ctx, TrackEvent{UserID: "u1", ItemID: "i1", Action: "Purchase", Timestamp: &ts}); err != nil {
		t.Fatalf("TrackEvent: %v", err)
	}
	msg, err := f.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ev, err := ingest.DecodeEvent(msg.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Action != core.ActionPurchase || ev.Timestamp != 1700000000 || string(msg.Key) != "u1" {
		t.Fatalf("forwarded event = %+v key=%s", ev, msg.Key)
	}
}
