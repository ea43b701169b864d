package experiment

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/logging"
)

func splitExperiment(id string, status Status, control, treatment int) *Experiment {
	return &Experiment{
		ID:     id,
		Status: status,
		Variants: VariantList{
			{Name: "control", Weight: control},
			{Name: "treatment", Weight: treatment, Params: map[string]any{"lambda": 0.3}},
		},
		Metrics: []string{"click", "purchase"},
	}
}

func newEngine(t *testing.T, exps ...*Experiment) (*Engine, *MemoryConfigStore, *MemoryCounterStore) {
	t.Helper()
	cfg := NewMemoryConfigStore(exps...)
	reg, err := NewRegistry(context.Background(), cfg, logging.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	counters := NewMemoryCounterStore()
	return NewEngine(reg, counters), cfg, counters
}

func TestAssignVariant_Deterministic(t *testing.T) {
	e, _, _ := newEngine(t, splitExperiment("expA", StatusActive, 50, 50))
	for i := 0; i < 200; i++ {
		u := fmt.Sprintf("user_%d", i)
		first := e.AssignVariant(u, "expA")
		for rep := 0; rep < 3; rep++ {
			if got := e.AssignVariant(u, "expA"); got != first {
				t.Fatalf("%s: %s then %s", u, first, got)
			}
		}
	}
}

func TestAssignVariant_WeightProportionality(t *testing.T) {
	e, _, _ := newEngine(t, splitExperiment("exp_split", StatusActive, 50, 50))
	const n = 10000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[e.AssignVariant(fmt.Sprintf("user_%d", i), "exp_split")]++
	}
	share := float64(counts["control"]) / n
	if math.Abs(share-0.5) > 0.03 {
		t.Fatalf("control share = %.4f, counts = %v", share, counts)
	}
}

func TestAssignVariant_InactiveOrUnknownIsControl(t *testing.T) {
	e, _, _ := newEngine(t,
		splitExperiment("draft", StatusDraft, 0, 100),
		splitExperiment("done", StatusCompleted, 0, 100),
		splitExperiment("live", StatusActive, 0, 100),
	)
	tests := []struct {
		exp  string
		want string
	}{
		{"draft", "control"},
		{"done", "control"},
		{"missing", "control"},
		{"live", "treatment"},
	}
	for _, tt := range tests {
		if got := e.AssignVariant("u1", tt.exp); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.exp, got, tt.want)
		}
	}
}

func TestRecordExposure_InactiveWritesNothing(t *testing.T) {
	e, _, counters := newEngine(t, splitExperiment("draft", StatusDraft, 50, 50))
	v, err := e.RecordExposure(context.Background(), "u1", "draft", "req-1")
	if err != nil || v != "control" {
		t.Fatalf("variant=%s err=%v", v, err)
	}
	if n, _ := counters.Exposures(context.Background(), "draft", "control"); n != 0 {
		t.Fatalf("exposures = %d", n)
	}
	if _, ok, _ := counters.GetAssignment(context.Background(), "u1", "draft"); ok {
		t.Fatal("assignment persisted for inactive experiment")
	}
}

func TestConversionAttribution_SurvivesReweight(t *testing.T) {
	ctx := context.Background()
	e, cfg, counters := newEngine(t, splitExperiment("expA", StatusActive, 50, 50))

	variant, err := e.RecordExposure(ctx, "u2", "expA", "req-42")
	if err != nil {
		t.Fatalf("RecordExposure: %v", err)
	}
	if variant != "treatment" {
		t.Fatalf("u2 assigned %s, want treatment", variant)
	}

	// 另一个实例把全部流量切到 control
	_ = cfg.Save(ctx, []*Experiment{splitExperiment("expA", StatusActive, 100, 0)})
	if err := e.Registry().Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := e.AssignVariant("u2", "expA"); got != "control" {
		t.Fatalf("after reweight assigned %s", got)
	}

	ok, err := e.RecordConversion(ctx, "u2", "expA", "purchase", 25.0)
	if err != nil || !ok {
		t.Fatalf("RecordConversion ok=%v err=%v", ok, err)
	}
	sum, count, _ := counters.Conversions(ctx, "expA", "treatment", "purchase")
	if sum != 25.0 || count != 1 {
		t.Fatalf("treatment sum=%v count=%d", sum, count)
	}
	if sum, count, _ := counters.Conversions(ctx, "expA", "control", "purchase"); sum != 0 || count != 0 {
		t.Fatalf("control sum=%v count=%d", sum, count)
	}

	a, ok, _ := e.Assignment(ctx, "u2", "expA")
	if !ok || a.RequestID != "req-42" {
		t.Fatalf("assignment = %+v", a)
	}
}

func TestRecordConversion_Dropped(t *testing.T) {
	ctx := context.Background()
	e, _, counters := newEngine(t, splitExperiment("expA", StatusActive, 50, 50))
	_, _ = e.RecordExposure(ctx, "u1", "expA", "")

	tests := []struct {
		name, user, exp, metric string
	}{
		{"never exposed", "u9", "expA", "purchase"},
		{"unknown experiment", "u1", "expB", "purchase"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ok, err := e.RecordConversion(ctx, tt.user, tt.exp, tt.metric, 1)
			if err != nil || ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
		})
	}
	for _, v := range []string{"control", "treatment"} {
		if _, n, _ := counters.Conversions(ctx, "expA", v, "purchase"); n != 0 {
			t.Fatalf("%s conversions = %d", v, n)
		}
	}
}

func TestRecordConversion_UndeclaredMetricAccumulates(t *testing.T) {
	ctx := context.Background()
	exp := splitExperiment("expA", StatusActive, 0, 100)
	exp.Metrics = []string{"ctr", "purchase_rate"}
	e, _, counters := newEngine(t, exp)

	variant, err := e.RecordExposure(ctx, "u2", "expA", "r1")
	if err != nil || variant != "treatment" {
		t.Fatalf("variant=%s err=%v", variant, err)
	}
	ok, err := e.RecordConversion(ctx, "u2", "expA", "purchase", 25)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	sum, n, err := counters.Conversions(ctx, "expA", "treatment", "purchase")
	if err != nil || sum != 25 || n != 1 {
		t.Fatalf("sum=%v count=%d err=%v", sum, n, err)
	}

	if err := e.Reset(ctx, "expA"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, n, _ := counters.Conversions(ctx, "expA", "treatment", "purchase"); n != 0 {
		t.Fatalf("conversions after reset = %d", n)
	}
}

func TestAssignmentExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	counters := NewMemoryCounterStore().WithClock(func() time.Time { return now })
	reg, _ := NewRegistry(ctx, NewMemoryConfigStore(splitExperiment("expA", StatusActive, 50, 50)), logging.Nop())
	e := NewEngine(reg, counters)

	_, _ = e.RecordExposure(ctx, "u1", "expA", "")
	now = now.Add(core.AssignmentTTL)
	if ok, _ := e.RecordConversion(ctx, "u1", "expA", "click", 1); ok {
		t.Fatal("conversion attributed after assignment expired")
	}
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	e, _, counters := newEngine(t, splitExperiment("expA", StatusActive, 50, 50))
	for rep := 0; rep < 1000; rep++ {
		_ = counters.IncrExposure(ctx, "expA", "control")
		_ = counters.IncrExposure(ctx, "expA", "treatment")
	}
	for rep := 0; rep < 100; rep++ {
		_ = counters.IncrConversion(ctx, "expA", "control", "click", 1)
	}
	for rep := 0; rep < 150; rep++ {
		_ = counters.IncrConversion(ctx, "expA", "treatment", "click", 1)
	}

	res, err := e.Results(ctx, "expA")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if res.Control != "control" || len(res.Variants) != 2 {
		t.Fatalf("results = %+v", res)
	}
	ctrl := res.Variants[0].Metrics["click"]
	if ctrl.Comparison != nil || ctrl.Value != 0.1 || ctrl.Count != 100 {
		t.Fatalf("control click = %+v", ctrl)
	}
	treat := res.Variants[1].Metrics["click"]
	if math.Abs(treat.Lift-0.5) > 1e-9 {
		t.Fatalf("lift = %v", treat.Lift)
	}
	if math.Abs(treat.ZScore-3.3806170189) > 1e-6 {
		t.Fatalf("z = %v", treat.ZScore)
	}
	if treat.PValue > 0.001 || !treat.IsSignificant {
		t.Fatalf("p = %v significant=%v", treat.PValue, treat.IsSignificant)
	}
	if res.Variants[1].ExposureCount != 1000 {
		t.Fatalf("exposure = %d", res.Variants[1].ExposureCount)
	}

	if err := e.Reset(ctx, "expA"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res, _ = e.Results(ctx, "expA")
	if res.Variants[1].ExposureCount != 0 || res.Variants[1].Metrics["click"].Count != 0 {
		t.Fatalf("after reset = %+v", res.Variants[1])
	}

	if _, err := e.Results(ctx, "nope"); !core.IsNotFound(err) {
		t.Fatalf("unknown experiment err = %v", err)
	}
}

func TestZTest(t *testing.T) {
	tests := []struct {
		name           string
		cs             float64
		cn             int64
		ts             float64
		tn             int64
		wantZ, wantP   float64
		wantSignficant bool
	}{
		{"identical rates", 30, 300, 30, 300, 0, 1, false},
		{"no control exposure", 0, 0, 5, 10, 0, 1, false},
		{"zero variance", 0, 100, 0, 100, 0, 1, false},
		{"all converted", 100, 100, 100, 100, 0, 1, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			z, p := ZTest(tt.cs, tt.cn, tt.ts, tt.tn)
			if z != tt.wantZ || p != tt.wantP {
				t.Fatalf("z=%v p=%v", z, p)
			}
			if (p < SignificanceLevel) != tt.wantSignficant {
				t.Fatalf("significance mismatch")
			}
		})
	}
	if l := Lift(0.1, 0.1); l != 0 {
		t.Fatalf("lift = %v", l)
	}
	if l := Lift(0, 0.3); l != 0 {
		t.Fatalf("lift with zero control = %v", l)
	}
}

func TestVariantParams(t *testing.T) {
	e, _, _ := newEngine(t, splitExperiment("expA", StatusActive, 50, 50))
	p := e.VariantParams("expA", "treatment")
	if p["lambda"] != 0.3 {
		t.Fatalf("params = %v", p)
	}
	p["lambda"] = 9.0
	if e.VariantParams("expA", "treatment")["lambda"] != 0.3 {
		t.Fatal("params not copied")
	}
	if e.VariantParams("expA", "nope") != nil || e.VariantParams("nope", "control") != nil {
		t.Fatal("expected nil params")
	}
}
