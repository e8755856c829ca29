package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/allaspectsdev/memocache/internal/backend/memory"
)

func setupAdmin(t *testing.T) (*AdminServer, *Collector) {
	t.Helper()

	b, err := memory.New(memory.Options{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	collector := NewCollector()
	admin := NewAdminServer(collector, b, ":0")
	return admin, collector
}

func TestAdmin_HealthEndpoint(t *testing.T) {
	admin, _ := setupAdmin(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: got %q, want %q", body["status"], "ok")
	}
}

func TestAdmin_StatsEndpoint(t *testing.T) {
	admin, collector := setupAdmin(t)

	collector.RecordCall(true, nil, 0, "memory")

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Calls struct {
			CacheHits int64 `json:"cache_hits"`
		} `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body.Calls.CacheHits != 1 {
		t.Errorf("cache_hits: got %d, want 1", body.Calls.CacheHits)
	}
}

func TestAdmin_InvalidateByTag(t *testing.T) {
	admin, _ := setupAdmin(t)
	ctx := context.Background()

	_ = admin.backend.Set(ctx, "k1", []byte("v1"), []string{"region:eu"}, 0)
	_ = admin.backend.Set(ctx, "k2", []byte("v2"), nil, 0)

	body, _ := json.Marshal(map[string]any{"tags": []string{"region:eu"}})
	req := httptest.NewRequest("POST", "/invalidate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	if _, err := admin.backend.Get(ctx, "k1"); err == nil {
		t.Error("k1 should have been invalidated")
	}
	if _, err := admin.backend.Get(ctx, "k2"); err != nil {
		t.Errorf("k2 should remain: %v", err)
	}
}

func TestAdmin_InvalidateAll(t *testing.T) {
	admin, _ := setupAdmin(t)
	ctx := context.Background()

	_ = admin.backend.Set(ctx, "k1", []byte("v1"), nil, 0)

	body, _ := json.Marshal(map[string]any{"all": true})
	req := httptest.NewRequest("POST", "/invalidate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	stats, _ := admin.backend.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("entries after invalidate-all: got %d, want 0", stats.Entries)
	}
}

func TestAdmin_InvalidateInvalidJSON(t *testing.T) {
	admin, _ := setupAdmin(t)

	req := httptest.NewRequest("POST", "/invalidate", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAdmin_MetricsEndpoint(t *testing.T) {
	admin, collector := setupAdmin(t)
	collector.RecordCall(true, nil, 0, "memory")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if len(w.Body.Bytes()) == 0 {
		t.Error("expected non-empty prometheus body")
	}
}
