package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rushteam/recserve/core"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_PushRecentItem(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	for i := 0; i < 15; i++ {
		if err := s.PushRecentItem(ctx, "u1", fmt.Sprintf("i%d", i)); err != nil {
			t.Fatalf("PushRecentItem: %v", err)
		}
	}
	items, err := s.RecentItems(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentItems: %v", err)
	}
	if len(items) != 10 || items[0] != "i14" || items[9] != "i5" {
		t.Fatalf("items = %v", items)
	}
	if ttl := mr.TTL(RecentItemsKey("u1")); ttl != 24*time.Hour {
		t.Errorf("recent items ttl = %v, want 24h", ttl)
	}
}

func TestRedisStore_IncrActionCountSetsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	bucket := "2024010110"
	key := ActionsKey("u1", bucket)

	if _, err := s.IncrActionCount(ctx, "u1", bucket, core.ActionClick); err != nil {
		t.Fatalf("IncrActionCount: %v", err)
	}
	if ttl := mr.TTL(key); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", ttl)
	}

	mr.FastForward(time.Hour)
	n, err := s.IncrActionCount(ctx, "u1", bucket, core.ActionClick)
	if err != nil {
		t.Fatalf("IncrActionCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if ttl := mr.TTL(key); ttl != 23*time.Hour {
		t.Fatalf("ttl after second write = %v, want 23h", ttl)
	}

	counts, err := s.ActionCounts(ctx, "u1", bucket)
	if err != nil {
		t.Fatalf("ActionCounts: %v", err)
	}
	if counts[core.ActionClick] != 2 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRedisStore_SequenceTrim(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	for ts := int64(100); ts < 160; ts++ {
		if err := s.AppendSequenceEvent(ctx, "u1", ts, "i"+fmt.Sprint(ts)); err != nil {
			t.Fatalf("AppendSequenceEvent: %v", err)
		}
	}
	seq, err := s.Sequence(ctx, "u1")
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if len(seq) != 50 {
		t.Fatalf("len = %d, want 50", len(seq))
	}
	if seq[0].Timestamp != 110 || seq[0].ItemID != "i110" {
		t.Fatalf("oldest kept = %+v", seq[0])
	}
}

func TestRedisStore_RecallReads(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	_, _ = mr.ZAdd(SimilarKey("i1"), 0.9, "i2")
	_, _ = mr.ZAdd(SimilarKey("i1"), 0.5, "i3")
	_, _ = mr.ZAdd(CategoryKey("shoes"), 1, "s1")

	similar, err := s.SimilarItems(ctx, "i1", 11)
	if err != nil {
		t.Fatalf("SimilarItems: %v", err)
	}
	if len(similar) != 2 || similar[0] != "i2" {
		t.Fatalf("similar = %v", similar)
	}
	cat, _ := s.CategoryItems(ctx, "shoes", 31)
	if len(cat) != 1 || cat[0] != "s1" {
		t.Fatalf("category = %v", cat)
	}
	popular, _ := s.PopularItems(ctx, "home", 101)
	if len(popular) != 0 {
		t.Fatalf("popular = %v, want empty", popular)
	}
}

func TestRedisStore_HGetAll(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	mr.HSet(UserFeatureKey("u1"), "user_segment", "vip", "total_clicks", "12")
	vals, err := s.HGetAll(ctx, UserFeatureKey("u1"))
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if vals["user_segment"] != "vip" || vals["total_clicks"] != "12" {
		t.Fatalf("vals = %v", vals)
	}
	if _, err := s.HGetAll(ctx, UserFeatureKey("u2")); !core.IsStoreNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}
