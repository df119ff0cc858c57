package graph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeGraphStore implements enough of the graph store protocol for the
// client tests: graphs keyed by the graph query parameter.
type fakeGraphStore struct {
	mu     sync.Mutex
	graphs map[string]string
	// fail queues per-path canned status responses, consumed in order
	fail []int
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{graphs: map[string]string{}}
}

func (f *fakeGraphStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if len(f.fail) > 0 {
			code := f.fail[0]
			f.fail = f.fail[1:]
			if code == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "0")
			}
			w.WriteHeader(code)
			return
		}

		name := r.URL.Query().Get("graph")
		switch r.Method {
		case http.MethodHead, http.MethodGet:
			body, ok := f.graphs[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/n-triples")
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(body))
			}
		case http.MethodPut:
			buf, _ := io.ReadAll(r.Body)
			f.graphs[name] = string(buf)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if _, ok := f.graphs[name]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.graphs, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func newTestClient(t *testing.T, f *fakeGraphStore) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "http://example.org/data", zerolog.Nop(),
		WithRetry(3, time.Millisecond))
}

func TestClient_ReplaceCaptureDelete(t *testing.T) {
	f := newFakeGraphStore()
	c := newTestClient(t, f)
	ctx := context.Background()
	name := c.GraphName("object/1")

	if name != "http://example.org/data/object/1" {
		t.Fatalf("unexpected graph name %s", name)
	}

	stmts := "<http://e/s> <http://e/p> \"o\" .\n"
	if err := c.Replace(ctx, name, stmts); err != nil {
		t.Fatalf("replace: %v", err)
	}

	ok, err := c.Exists(ctx, name)
	if err != nil || !ok {
		t.Fatalf("exists after replace: ok=%v err=%v", ok, err)
	}

	body, found, err := c.Capture(ctx, name)
	if err != nil || !found {
		t.Fatalf("capture: found=%v err=%v", found, err)
	}
	if body != stmts {
		t.Fatalf("captured %q, want %q", body, stmts)
	}

	if err := c.Delete(ctx, name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := c.Capture(ctx, name); found {
		t.Fatalf("graph still present after delete")
	}

	// deleting an absent graph is fine
	if err := c.Delete(ctx, name); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestClient_TransientRetry(t *testing.T) {
	f := newFakeGraphStore()
	f.fail = []int{http.StatusServiceUnavailable, http.StatusBadGateway}
	c := newTestClient(t, f)

	if err := c.Replace(context.Background(), c.GraphName("object/2"), "x"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
}

func TestClient_TransientExhaustion(t *testing.T) {
	f := newFakeGraphStore()
	f.fail = []int{503, 503, 503, 503}
	c := newTestClient(t, f)

	err := c.Replace(context.Background(), c.GraphName("object/3"), "x")
	if err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestClient_FatalNoRetry(t *testing.T) {
	f := newFakeGraphStore()
	f.fail = []int{http.StatusRequestEntityTooLarge, http.StatusOK}
	c := newTestClient(t, f)

	err := c.Replace(context.Background(), c.GraphName("object/4"), "x")
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if !IsFatal(err) {
		t.Fatalf("expected fatal classification, got %v", err)
	}
	// the queued 200 must not have been consumed: no retry happened
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fail) != 1 {
		t.Fatalf("fatal error was retried")
	}
}
