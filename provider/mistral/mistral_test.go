package mistral

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendlyhq/friendly/config"
	"github.com/friendlyhq/friendly/internal/cache"
	"github.com/friendlyhq/friendly/provider"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.ProviderConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		CompletionModel: "mistral-large-latest",
		EmbeddingModel:  "mistral-embed",
		Timeout:         5 * time.Second,
		MaxRetries:      2,
	}, cache.NewMemory(), nil)
	return c, srv
}

func TestEmbedReturnsVector(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "mistral-embed" || len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0}},
		})
	}))

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", calls)
	}
}

func TestEmbedSingleAttemptOnFailure(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", calls)
	}
}

func TestCompleteCachesByPrompt(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "**Photosynthesis** is how plants eat."}}},
		})
	}))

	first, err := c.Complete(context.Background(), "what is photosynthesis?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "Photosynthesis is how plants eat."
	if first != want {
		t.Fatalf("expected cleaned answer %q, got %q", want, first)
	}

	second, err := c.Complete(context.Background(), "what is photosynthesis?")
	if err != nil {
		t.Fatalf("Complete (cached): %v", err)
	}
	if second != first {
		t.Fatalf("cache returned different answer: %q vs %q", second, first)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", calls)
	}
}

func TestCompleteSentinelAfterThreeFailedAttempts(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	got, err := c.Complete(context.Background(), "anything")
	if err != nil {
		t.Fatalf("expected nil error on outage, got %v", err)
	}
	if got != provider.Unavailable {
		t.Fatalf("expected sentinel %q, got %q", provider.Unavailable, got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts (1 initial + 2 retries), got %d", calls)
	}
}

func TestCompleteRecoversOnRetry(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	}))

	got, err := c.Complete(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected recovered answer, got %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestSentinelIsNotCached(t *testing.T) {
	var calls int32
	var fail atomic.Bool
	fail.Store(true)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "recovered"}}},
		})
	}))

	if got, _ := c.Complete(context.Background(), "p"); got != provider.Unavailable {
		t.Fatalf("expected sentinel, got %q", got)
	}
	fail.Store(false)
	got, err := c.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("expected fresh provider call after outage, got %q", got)
	}
}
