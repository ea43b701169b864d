package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rushteam/recserve/core"
)

func TestMemoryStore_RecentItemsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	for i := 0; i < 25; i++ {
		if err := s.PushRecentItem(ctx, "u1", fmt.Sprintf("i%d", i)); err != nil {
			t.Fatalf("PushRecentItem: %v", err)
		}
	}
	items, err := s.RecentItems(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentItems: %v", err)
	}
	if len(items) != core.RecentItemsCapacity {
		t.Fatalf("len = %d, want %d", len(items), core.RecentItemsCapacity)
	}
	for i, id := range items {
		want := fmt.Sprintf("i%d", 24-i)
		if id != want {
			t.Errorf("items[%d] = %s, want %s", i, id, want)
		}
	}
}

func TestMemoryStore_ActionBucketExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	defer s.Close()

	bucket := core.HourBucket(now)
	for i := 0; i < 3; i++ {
		if _, err := s.IncrActionCount(ctx, "u1", bucket, core.ActionClick); err != nil {
			t.Fatalf("IncrActionCount: %v", err)
		}
	}
	n, _ := s.IncrActionCount(ctx, "u1", bucket, core.ActionPurchase)
	if n != 1 {
		t.Fatalf("purchase count = %d, want 1", n)
	}

	counts, _ := s.ActionCounts(ctx, "u1", bucket)
	if counts[core.ActionClick] != 3 || counts[core.ActionPurchase] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	// 后续写入不刷新过期时间
	now = now.Add(time.Hour)
	_, _ = s.IncrActionCount(ctx, "u1", bucket, core.ActionClick)
	if ttl := s.TTL(ActionsKey("u1", bucket)); ttl != 23*time.Hour {
		t.Fatalf("ttl = %v, want 23h", ttl)
	}

	now = now.Add(23 * time.Hour)
	counts, _ = s.ActionCounts(ctx, "u1", bucket)
	if len(counts) != 0 {
		t.Fatalf("counts after expiry = %v, want empty", counts)
	}
}

func TestMemoryStore_SequenceKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	for ts := int64(1); ts <= 60; ts++ {
		if err := s.AppendSequenceEvent(ctx, "u1", ts, fmt.Sprintf("i%d", ts)); err != nil {
			t.Fatalf("AppendSequenceEvent: %v", err)
		}
	}
	seq, _ := s.Sequence(ctx, "u1")
	if len(seq) != core.SequenceCapacity {
		t.Fatalf("len = %d, want %d", len(seq), core.SequenceCapacity)
	}
	if seq[0].Timestamp != 11 || seq[len(seq)-1].ItemID != "i60" {
		t.Fatalf("unexpected window: first=%+v last=%+v", seq[0], seq[len(seq)-1])
	}
}

func TestMemoryStore_RankedReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_ = s.ZAdd(ctx, PopularKey("home"), 3, "a")
	_ = s.ZAdd(ctx, PopularKey("home"), 9, "b")
	_ = s.ZAdd(ctx, PopularKey("home"), 5, "c")

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{name: "top2", n: 2, want: []string{"b", "c"}},
		{name: "more than size", n: 10, want: []string{"b", "c", "a"}},
		{name: "zero", n: 0, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.PopularItems(ctx, "home", tt.n)
			if err != nil {
				t.Fatalf("PopularItems: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStore_HGetAllNotFound(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.HGetAll(context.Background(), UserFeatureKey("nobody"))
	if !core.IsStoreNotFound(err) {
		t.Fatalf("err = %v, want store not found", err)
	}
}
