package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/cache"
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/experiment"
	"github.com/rushteam/recserve/feature"
	"github.com/rushteam/recserve/pipeline"
	"github.com/rushteam/recserve/rank"
	"github.com/rushteam/recserve/recall"
	"github.com/rushteam/recserve/recommend"
	"github.com/rushteam/recserve/rerank"
	"github.com/rushteam/recserve/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	for i, id := range []string{"i1", "i2", "i3"} {
		_ = s.ZAdd(ctx, store.PopularKey("home"), float64(10-i), id)
		_ = s.HSet(ctx, store.ItemFeatureKey(id), map[string]string{"category": "shoes", "popularity_score": "1"})
	}

	agg := feature.NewAggregator(s, feature.NewStoreProvider(s))
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&recall.Fanout{Sources: []recall.Source{&recall.Popular{Store: s}}, Timeout: time.Second},
		&feature.EnrichNode{FeatureService: agg},
		&rank.ModelNode{},
		&rerank.TopNNode{},
	}}
	reg, err := experiment.NewRegistry(ctx, experiment.NewMemoryConfigStore(), zerolog.Nop())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	svc := recommend.New(p, agg,
		recommend.WithCache(cache.NewMemoryCache(time.Minute)),
		recommend.WithExperiments(experiment.NewEngine(reg, experiment.NewMemoryCounterStore())),
		recommend.WithHealthCheck("state", s.Ping),
	)
	return New(Config{}, svc, zerolog.Nop())
}

func do(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestRecommendEndpoints(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "recommend", method: http.MethodPost, path: "/api/v1/recommend", body: `{"user_id":"u1","num_recommendations":2}`, wantStatus: http.StatusOK},
		{name: "recommend missing user", method: http.MethodPost, path: "/api/v1/recommend", body: `{"page_type":"home"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "recommend malformed", method: http.MethodPost, path: "/api/v1/recommend", body: `{"user_id":`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "track click", method: http.MethodPost, path: "/api/v1/events", body: `{"user_id":"u1","item_id":"i1","action":"click","position":0}`, wantStatus: http.StatusOK},
		{name: "track unknown action", method: http.MethodPost, path: "/api/v1/events", body: `{"user_id":"u1","item_id":"i1","action":"like"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "refresh", method: http.MethodPost, path: "/api/v1/refresh/u1", wantStatus: http.StatusOK},
		{name: "user features", method: http.MethodGet, path: "/api/v1/features/user/u1", wantStatus: http.StatusOK},
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" && errorCode(body) != tt.wantCode {
				t.Fatalf("code = %q, want %q", errorCode(body), tt.wantCode)
			}
		})
	}

	t.Run("recommend body", func(t *testing.T) {
		_, body := do(t, srv, http.MethodPost, "/api/v1/recommend", `{"user_id":"u2","num_recommendations":2}`)
		recs, _ := body["recommendations"].([]any)
		if len(recs) != 2 || body["request_id"] == "" || body["model_version"] != rank.FallbackModelVersion {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("item features", func(t *testing.T) {
		_, body := do(t, srv, http.MethodGet, "/api/v1/features/item/i1", "")
		if body["category"] != "shoes" {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec, _ := do(t, srv, http.MethodGet, "/metrics", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
			t.Fatalf("metrics status = %d", rec.Code)
		}
	})
}

type panicNode struct{}

func (panicNode) Name() string        { return "test.panic" }
func (panicNode) Kind() pipeline.Kind { return pipeline.KindRank }
func (panicNode) Process(context.Context, *core.RecommendContext, []*core.Item) ([]*core.Item, error) {
	panic("boom")
}

func TestRecommendInternalErrorCarriesRequestID(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	svc := recommend.New(&pipeline.Pipeline{Nodes: []pipeline.Node{panicNode{}}}, feature.NewAggregator(s, nil),
		recommend.WithRequestIDGenerator(func() string { return "req-500" }),
	)
	srv := New(Config{}, svc, zerolog.Nop())

	rec, body := do(t, srv, http.MethodPost, "/api/v1/recommend", `{"user_id":"u1"}`)
	if rec.Code != http.StatusInternalServerError || errorCode(body) != "INTERNAL_ERROR" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	if body["request_id"] != "req-500" {
		t.Fatalf("request_id = %v, want req-500", body["request_id"])
	}
}

func TestExperimentEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec, body := do(t, srv, http.MethodPost, "/api/v1/experiments/",
		`{"id":"exp1","variants":[{"name":"control","weight":1},{"name":"treatment","weight":1}],"metrics":["click"]}`)
	if rec.Code != http.StatusCreated || body["status"] != "draft" {
		t.Fatalf("create = %d %v", rec.Code, body)
	}

	rec, _ = do(t, srv, http.MethodPost, "/api/v1/experiments/",
		`{"id":"exp1","variants":[{"name":"control","weight":1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate create = %d", rec.Code)
	}

	rec, body = do(t, srv, http.MethodPost, "/api/v1/experiments/exp1/start", "")
	if rec.Code != http.StatusOK || body["status"] != "active" {
		t.Fatalf("start = %d %v", rec.Code, body)
	}
	rec, body = do(t, srv, http.MethodPost, "/api/v1/experiments/exp1/start", "")
	if rec.Code != http.StatusConflict || errorCode(body) != "INVALID_TRANSITION" {
		t.Fatalf("restart = %d %v", rec.Code, body)
	}

	// 推荐请求记录曝光
	if rec, _ := do(t, srv, http.MethodPost, "/api/v1/recommend", `{"user_id":"u1"}`); rec.Code != http.StatusOK {
		t.Fatalf("recommend = %d", rec.Code)
	}
	rec, body = do(t, srv, http.MethodGet, "/api/v1/experiments/exp1/assignment/u1", "")
	if rec.Code != http.StatusOK || body["exposed"] == nil {
		t.Fatalf("assignment = %d %v", rec.Code, body)
	}

	rec, body = do(t, srv, http.MethodGet, "/api/v1/experiments/exp1/results", "")
	if rec.Code != http.StatusOK || body["experiment_id"] != "exp1" {
		t.Fatalf("results = %d %v", rec.Code, body)
	}
	var exposures float64
	for _, v := range body["variants"].([]any) {
		exposures += v.(map[string]any)["exposure_count"].(float64)
	}
	if exposures != 1 {
		t.Fatalf("total exposures = %v, want 1", exposures)
	}

	if rec, _ := do(t, srv, http.MethodPost, "/api/v1/experiments/exp1/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("reset = %d", rec.Code)
	}
	rec, body = do(t, srv, http.MethodPost, "/api/v1/experiments/exp1/stop", "")
	if rec.Code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("stop = %d %v", rec.Code, body)
	}

	rec, body = do(t, srv, http.MethodGet, "/api/v1/experiments/missing", "")
	if rec.Code != http.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("missing = %d %v", rec.Code, body)
	}

	rec, body = do(t, srv, http.MethodGet, "/api/v1/experiments/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if exps, _ := body["experiments"].([]any); len(exps) != 1 {
		t.Fatalf("list = %v", body)
	}
}
