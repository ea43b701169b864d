package recall

import (
	"context"
	"fmt"
	"testing"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/store"
)

func seedRecallStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 20; i++ {
		_ = s.ZAdd(ctx, store.SimilarKey("i1"), float64(100-i), fmt.Sprintf("s1_%02d", i))
		_ = s.ZAdd(ctx, store.PopularKey("home"), float64(1000-i), fmt.Sprintf("p%03d", i))
	}
	for i := 0; i < 200; i++ {
		_ = s.ZAdd(ctx, store.PopularKey("product"), float64(1000-i), fmt.Sprintf("p%03d", i))
	}
	_ = s.ZAdd(ctx, store.SimilarKey("i2"), 1, "s2_00")
	_ = s.ZAdd(ctx, store.CategoryKey("shoes"), 2, "c_shoe_1")
	_ = s.ZAdd(ctx, store.CategoryKey("shoes"), 1, "c_shoe_2")
	_ = s.ZAdd(ctx, store.CategoryKey("bags"), 1, "c_bag_1")
	_ = s.ZAdd(ctx, store.CategoryKey("hats"), 1, "c_hat_1")
	return s
}

func TestSimilar_Recall(t *testing.T) {
	s := seedRecallStore(t)
	rctx := core.NewRecommendContext("r1", core.Request{UserID: "u1"})
	rctx.User = core.NewFeatureSet(map[string]any{"recent_items": []string{"i1", "i2"}})

	out, err := (&Similar{Store: s}).Recall(context.Background(), rctx)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(out) != core.DefaultSimilarPerItem+1 {
		t.Fatalf("len = %d, want %d", len(out), core.DefaultSimilarPerItem+1)
	}
	if out[0].ID != "s1_00" || out[len(out)-1].ID != "s2_00" {
		t.Fatalf("order = %v", itemIDs(out))
	}
	if out[0].Source() != "similar" {
		t.Fatalf("source = %q", out[0].Source())
	}
}

func TestSimilar_FallsBackToState(t *testing.T) {
	s := seedRecallStore(t)
	_ = s.PushRecentItem(context.Background(), "u1", "i2")
	rctx := core.NewRecommendContext("r1", core.Request{UserID: "u1"})

	out, err := (&Similar{Store: s, State: s}).Recall(context.Background(), rctx)
	if err != nil || len(out) != 1 || out[0].ID != "s2_00" {
		t.Fatalf("out=%v err=%v", itemIDs(out), err)
	}
}

func TestPopular_Recall(t *testing.T) {
	s := seedRecallStore(t)

	tests := []struct {
		page    string
		wantLen int
	}{
		{"", 20},
		{"product", core.DefaultPopularLimit},
		{"cart", 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.page, func(t *testing.T) {
			rctx := core.NewRecommendContext("r1", core.Request{UserID: "u1", PageType: tt.page})
			out, err := (&Popular{Store: s}).Recall(context.Background(), rctx)
			if err != nil {
				t.Fatalf("Recall: %v", err)
			}
			if len(out) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(out), tt.wantLen)
			}
			if tt.wantLen > 0 && out[0].ID != "p000" {
				t.Fatalf("first = %s", out[0].ID)
			}
		})
	}
}

func TestCategory_Recall(t *testing.T) {
	s := seedRecallStore(t)
	rctx := core.NewRecommendContext("r1", core.Request{UserID: "u1"})
	rctx.User = core.NewFeatureSet(map[string]any{
		"top_categories": []any{"shoes", "bags", "toys", "hats"},
	})

	out, err := (&Category{Store: s}).Recall(context.Background(), rctx)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if got, want := itemIDs(out), []string{"c_shoe_1", "c_shoe_2", "c_bag_1"}; !equalIDs(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if out[2].Category() != "bags" {
		t.Fatalf("category = %q", out[2].Category())
	}
}
