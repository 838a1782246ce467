package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/rolechat/internal/ollama"
)

func openAIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeOpenAIError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "test_error"},
	})
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	srv := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	})

	e := NewOpenAIEmbedder("sk-test", srv.URL, "text-embedding-3-small", time.Second)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
	if e.Model() != "openai/text-embedding-3-small" {
		t.Errorf("Model() = %q", e.Model())
	}
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	srv := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
	})

	_, err := NewOpenAIEmbedder("k", srv.URL, "m", time.Second).Embed(context.Background(), []string{"a"})
	if kind, _ := KindOf(err); kind != KindBadResponse {
		t.Fatalf("kind = %q (err %v), want bad_response", kind, err)
	}
}

func TestOpenAIGenerator_Temperature(t *testing.T) {
	tests := []struct {
		name       string
		configured float64
		want       float64
	}{
		{"zero is sent as the minimum", 0, minTemperature},
		{"configured value passes through", 0.7, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					http.NotFound(w, r)
					return
				}
				json.NewDecoder(r.Body).Decode(&body)
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"id":     "c1",
					"object": "chat.completion",
					"choices": []map[string]any{{
						"index":         0,
						"message":       map[string]string{"role": "assistant", "content": "Three weeks."},
						"finish_reason": "stop",
					}},
				})
			})

			g := NewOpenAIGenerator("k", srv.URL, "gpt-4o-mini", time.Second).WithTemperature(tt.configured)
			out, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "how much leave?"}})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if out != "Three weeks." {
				t.Errorf("out = %q", out)
			}
			temp, ok := body["temperature"].(float64)
			if !ok || math.Abs(temp-tt.want) > 1e-6 {
				t.Errorf("temperature = %v, want %v", body["temperature"], tt.want)
			}
		})
	}
}

func TestOllamaGenerator_Temperature(t *testing.T) {
	var body struct {
		Options struct {
			Temperature float64 `json:"temperature"`
		} `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": "ok"}})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(ollama.New(srv.URL), "llama3.2", time.Second).WithTemperature(0.3)
	if _, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if body.Options.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", body.Options.Temperature)
	}
}

func TestOpenAI_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusInternalServerError, KindNetwork},
		{http.StatusBadRequest, KindBadResponse},
	}
	for _, tt := range tests {
		srv := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeOpenAIError(w, tt.status, "nope")
		})
		_, err := NewOpenAIGenerator("k", srv.URL, "m", time.Second).Generate(context.Background(), nil)
		if !errors.Is(err, ErrProvider) {
			t.Fatalf("status %d: err = %v, want ErrProvider", tt.status, err)
		}
		if kind, _ := KindOf(err); kind != tt.want {
			t.Errorf("status %d: kind = %q, want %q", tt.status, kind, tt.want)
		}
	}
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := NewOpenAIEmbedder("k", srv.URL, "m", 20*time.Millisecond).Embed(context.Background(), []string{"x"})
	if kind, _ := KindOf(err); kind != KindTimeout {
		t.Fatalf("kind = %q (err %v), want timeout", kind, err)
	}
}

func TestOllama_ErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(ollama.New(srv.URL), "llama3.2", time.Second).Generate(context.Background(), nil)
	if kind, _ := KindOf(err); kind != KindBadResponse {
		t.Errorf("kind = %q, want bad_response", kind)
	}

	srv.Close()
	_, err = NewOllamaEmbedder(ollama.New(srv.URL), "nomic-embed-text", time.Second).Embed(context.Background(), []string{"x"})
	if kind, _ := KindOf(err); kind != KindNetwork {
		t.Errorf("kind = %q, want network", kind)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(ollama.New(srv.URL), "nomic-embed-text", time.Second)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 0.3 {
		t.Errorf("vecs = %v", vecs)
	}
	if e.Model() != "ollama/nomic-embed-text" {
		t.Errorf("Model() = %q", e.Model())
	}
}

type stubEmbedder struct {
	calls atomic.Int32
	fn    func(call int32) ([][]float32, error)
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.fn(s.calls.Add(1))
}

func (s *stubEmbedder) Model() string { return "stub/model" }

func fastLimiter(retries int) *Limiter {
	l := NewLimiter(0, retries)
	l.baseDelay = time.Millisecond
	return l
}

func TestLimiter_RetriesRateLimited(t *testing.T) {
	s := &stubEmbedder{fn: func(call int32) ([][]float32, error) {
		if call < 3 {
			return nil, &ProviderError{Provider: "stub", Op: "embed", Kind: KindRateLimited, Err: errors.New("429")}
		}
		return [][]float32{{1}}, nil
	}}

	e := LimitEmbedder(s, fastLimiter(3))
	vecs, err := e.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || s.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", s.calls.Load())
	}
	if e.Model() != "stub/model" {
		t.Errorf("Model() not forwarded: %q", e.Model())
	}
}

func TestLimiter_GivesUp(t *testing.T) {
	s := &stubEmbedder{fn: func(int32) ([][]float32, error) {
		return nil, &ProviderError{Kind: KindNetwork, Err: errors.New("refused")}
	}}

	_, err := LimitEmbedder(s, fastLimiter(2)).Embed(context.Background(), []string{"x"})
	if kind, _ := KindOf(err); kind != KindNetwork {
		t.Fatalf("err = %v, want network provider error", err)
	}
	if s.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", s.calls.Load())
	}
}

func TestLimiter_NoRetryOnAuth(t *testing.T) {
	s := &stubEmbedder{fn: func(int32) ([][]float32, error) {
		return nil, &ProviderError{Kind: KindAuth, Err: errors.New("bad key")}
	}}

	_, err := LimitEmbedder(s, fastLimiter(5)).Embed(context.Background(), []string{"x"})
	if kind, _ := KindOf(err); kind != KindAuth {
		t.Fatalf("err = %v", err)
	}
	if s.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", s.calls.Load())
	}
}

func TestLimiter_ContextCancelledDuringBackoff(t *testing.T) {
	s := &stubEmbedder{fn: func(int32) ([][]float32, error) {
		return nil, &ProviderError{Kind: KindRateLimited, Err: errors.New("429")}
	}}
	l := NewLimiter(0, 5)
	l.baseDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := LimitEmbedder(s, l).Embed(ctx, []string{"x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !errors.Is(err, ErrProvider) {
		t.Error("last provider error should stay in the chain")
	}
}

func TestBackoff_Bounds(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoff(initialBackoff, attempt)
		if d <= 0 || d > maxBackoff+maxBackoff/4 {
			t.Fatalf("backoff(%d) = %v out of range", attempt, d)
		}
	}
}

func TestFactory(t *testing.T) {
	if _, err := NewEmbedder(Options{Provider: "openai"}); err == nil {
		t.Error("openai embedder without key should fail")
	}
	if _, err := NewGenerator(Options{Provider: "cohere"}); err == nil {
		t.Error("unknown provider should fail")
	}
	g, err := NewGenerator(Options{Provider: "ollama", Model: "llama3.2", BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if g.Model() != "ollama/llama3.2" {
		t.Errorf("Model() = %q", g.Model())
	}
}
