package rank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/model"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/pkg/logging"
)

type fnScorer struct {
	name string
	fn   func(vectors [][]float64) ([]float64, error)
}

func (s fnScorer) Name() string { return s.name }
func (s fnScorer) Score(_ context.Context, vectors [][]float64) ([]float64, error) {
	return s.fn(vectors)
}

func candidates() []*core.Item {
	mk := func(id string, rate, pop float64) *core.Item {
		it := core.NewItem(id)
		it.Features = core.NewFeatureSet(map[string]any{"purchase_rate": rate, "popularity_score": pop})
		return it
	}
	return []*core.Item{mk("a", 0.1, 5), mk("b", 0.9, 1), nil, mk("c", 0.5, 9)}
}

func newContext() *core.RecommendContext {
	rctx := core.NewRecommendContext("req-1", core.Request{UserID: "u1"})
	rctx.User = core.NewFeatureSet(map[string]any{"ctr": 0.3})
	return rctx
}

func TestModelNode(t *testing.T) {
	byRate := fnScorer{name: "xgb_v2", fn: func(vectors [][]float64) ([]float64, error) {
		out := make([]float64, len(vectors))
		for i, v := range vectors {
			out[i] = v[0] + v[1]
		}
		return out, nil
	}}
	failing := fnScorer{name: "broken", fn: func([][]float64) ([]float64, error) {
		return nil, errors.New("model server 503")
	}}
	slow := fnScorer{name: "slow", fn: func(v [][]float64) ([]float64, error) {
		time.Sleep(200 * time.Millisecond)
		return make([]float64, len(v)), nil
	}}
	panicky := fnScorer{name: "panicky", fn: func([][]float64) ([]float64, error) {
		panic("nil weights")
	}}
	short := fnScorer{name: "short", fn: func([][]float64) ([]float64, error) {
		return []float64{1}, nil
	}}

	tests := []struct {
		name        string
		scorer      model.Scorer
		wantOrder   []string
		wantMode    ScoreMode
		wantVersion string
	}{
		{"model scores", byRate, []string{"b", "c", "a"}, ScoreModeModel, "xgb_v2"},
		{"error falls back to popularity", failing, []string{"c", "a", "b"}, ScoreModePopularity, FallbackModelVersion},
		{"timeout falls back to popularity", slow, []string{"c", "a", "b"}, ScoreModePopularity, FallbackModelVersion},
		{"panic falls back to popularity", panicky, []string{"c", "a", "b"}, ScoreModePopularity, FallbackModelVersion},
		{"mismatched batch falls back", short, []string{"c", "a", "b"}, ScoreModePopularity, FallbackModelVersion},
		{"no scorer uses popularity", nil, []string{"c", "a", "b"}, ScoreModePopularity, FallbackModelVersion},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n := &ModelNode{
				Scorer:  tt.scorer,
				Schema:  model.Schema{"purchase_rate", "ctr"},
				Timeout: 50 * time.Millisecond,
				Breaker: breaker.New[[]float64](breaker.DefaultConfig("scorer"), logging.Nop()),
			}
			rctx := newContext()
			out, err := n.Process(context.Background(), rctx, candidates())
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(out) != len(tt.wantOrder) {
				t.Fatalf("len = %d", len(out))
			}
			for i, id := range tt.wantOrder {
				if out[i].ID != id {
					t.Fatalf("position %d = %s, want %s", i, out[i].ID, id)
				}
				if lbl := out[i].Labels[LabelScoreMode]; lbl.Value != string(tt.wantMode) {
					t.Fatalf("score_mode = %q", lbl.Value)
				}
			}
			if lbl, _ := rctx.GetLabel(LabelModelVersion); lbl.Value != tt.wantVersion {
				t.Fatalf("model_version = %q, want %q", lbl.Value, tt.wantVersion)
			}
		})
	}
}

func TestModelNode_VariantSelectsScorer(t *testing.T) {
	constant := func(name string, v float64) model.Scorer {
		return fnScorer{name: name, fn: func(vs [][]float64) ([]float64, error) {
			out := make([]float64, len(vs))
			for i := range out {
				out[i] = v
			}
			return out, nil
		}}
	}
	n := &ModelNode{
		Scorer:  constant("baseline", 1),
		Scorers: map[string]model.Scorer{"lightfm": constant("lightfm", 2)},
	}
	rctx := newContext()
	rctx.Params[ParamModel] = "lightfm"

	out, _ := n.Process(context.Background(), rctx, candidates())
	if out[0].Score != 2 {
		t.Fatalf("score = %v, want 2", out[0].Score)
	}
	// 同分保持输入顺序
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("order changed on equal scores")
	}
}
