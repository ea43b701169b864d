package feature

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/breaker"
	"github.com/rushteam/recserve/store"
)

type stubProvider struct {
	user      map[string]any
	items     map[string]map[string]any
	err       error
	delay     time.Duration
	itemCalls atomic.Int32
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) UserFeatures(ctx context.Context, userID string) (map[string]any, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.user, nil
}

func (p *stubProvider) ItemFeatures(ctx context.Context, itemIDs []string) (map[string]map[string]any, error) {
	p.itemCalls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]map[string]any)
	for _, id := range itemIDs {
		if f, ok := p.items[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

func seededState(t *testing.T, now time.Time) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	bucket := core.HourBucket(now)
	for _, id := range []string{"i2", "i5", "i5"} {
		_ = s.PushRecentItem(ctx, "u1", id)
		_, _ = s.IncrActionCount(ctx, "u1", bucket, core.ActionClick)
	}
	_, _ = s.IncrActionCount(ctx, "u1", bucket, core.ActionPurchase)
	return s
}

func TestAggregator_GetUserFeatures(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		provider    *stubProvider
		wantSegment string
		wantClicks  float64
	}{
		{
			name:        "profile merged under realtime",
			provider:    &stubProvider{user: map[string]any{"user_segment": "vip", "total_clicks": 42.0, "recent_items": []string{"stale"}}},
			wantSegment: "vip",
			wantClicks:  42,
		},
		{
			name:        "provider error degrades",
			provider:    &stubProvider{err: errors.New("feast down")},
			wantSegment: UnknownSegment,
			wantClicks:  0,
		},
		{
			name:        "provider timeout degrades",
			provider:    &stubProvider{user: map[string]any{"user_segment": "vip"}, delay: 200 * time.Millisecond},
			wantSegment: UnknownSegment,
			wantClicks:  0,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(seededState(t, now), tt.provider,
				WithTimeout(50*time.Millisecond),
				WithClock(func() time.Time { return now }),
			)
			fs := agg.GetUserFeatures(context.Background(), "u1")

			if got := fs.String("user_segment"); got != tt.wantSegment {
				t.Errorf("user_segment = %q, want %q", got, tt.wantSegment)
			}
			if got, _ := fs.Float64("total_clicks"); got != tt.wantClicks {
				t.Errorf("total_clicks = %v, want %v", got, tt.wantClicks)
			}
			if got := fs.Strings("recent_items"); !reflect.DeepEqual(got, []string{"i5", "i5", "i2"}) {
				t.Errorf("recent_items = %v", got)
			}
			if got, _ := fs.Float64("click_count"); got != 3 {
				t.Errorf("click_count = %v, want 3", got)
			}
			if got, _ := fs.Float64("ctr"); got != 1.0/3.0 {
				t.Errorf("ctr = %v, want 1/3", got)
			}
		})
	}
}

type failingState struct{ *store.MemoryStore }

func (failingState) RecentItems(ctx context.Context, userID string, n int) ([]string, error) {
	return nil, errors.New("redis unreachable")
}

func TestAggregator_RealtimeFailureIsWellFormed(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	agg := NewAggregator(failingState{s}, nil)

	fs := agg.GetUserFeatures(context.Background(), "u1")
	if items := fs.Strings("recent_items"); items == nil || len(items) != 0 {
		t.Fatalf("recent_items = %#v, want empty list", items)
	}
	if ctr, ok := fs.Float64("ctr"); !ok || ctr != 0 {
		t.Fatalf("ctr = %v ok=%v", ctr, ok)
	}
	if fs.String("user_segment") != UnknownSegment {
		t.Fatalf("user_segment = %q", fs.String("user_segment"))
	}
}

func TestAggregator_GetItemFeatures(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	t.Run("cache avoids second fetch", func(t *testing.T) {
		p := &stubProvider{items: map[string]map[string]any{
			"i1": {"purchase_rate": 0.2, "category": "shoes"},
		}}
		agg := NewAggregator(s, p, WithItemCache(NewMemoryItemCache(10, time.Minute)))

		got := agg.GetItemFeatures(context.Background(), []string{"i1", "i2", "i1"})
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if rate, _ := got["i1"].Float64("purchase_rate"); rate != 0.2 {
			t.Fatalf("purchase_rate = %v", rate)
		}
		if got["i2"].Len() != 0 {
			t.Fatalf("i2 features = %v, want empty", got["i2"].ToMap())
		}

		_ = agg.GetItemFeatures(context.Background(), []string{"i1"})
		if calls := p.itemCalls.Load(); calls != 1 {
			t.Fatalf("provider calls = %d, want 1", calls)
		}
	})

	t.Run("batch failure returns empty sets", func(t *testing.T) {
		p := &stubProvider{err: errors.New("timeout")}
		agg := NewAggregator(s, p, WithBreaker(breaker.DefaultConfig("test")))

		got := agg.GetItemFeatures(context.Background(), []string{"a", "b"})
		if len(got) != 2 || got["a"].Len() != 0 || got["b"].Len() != 0 {
			t.Fatalf("got %v", got)
		}
	})
}

func TestRealtimeFeatures_NoClicks(t *testing.T) {
	f := RealtimeFeatures(nil, map[core.Action]int64{core.ActionPurchase: 2})
	if f["ctr"] != 0.0 {
		t.Fatalf("ctr = %v, want 0", f["ctr"])
	}
	if items, ok := f["recent_items"].([]string); !ok || len(items) != 0 {
		t.Fatalf("recent_items = %#v", f["recent_items"])
	}
}
