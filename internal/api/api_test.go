package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/opencollections/lod-gateway/internal/activity"
	"github.com/opencollections/lod-gateway/internal/ingest"
	"github.com/opencollections/lod-gateway/internal/memento"
	"github.com/opencollections/lod-gateway/internal/store"
	"github.com/opencollections/lod-gateway/internal/store/sqlite"
)

const testBaseURL = "http://gw.test"

// stubGraphs satisfies ingest.GraphStore for reconcile tests.
type stubGraphs struct {
	graphs map[string]string
}

func (s *stubGraphs) GraphName(entityID string) string { return "http://g/" + entityID }
func (s *stubGraphs) Capture(ctx context.Context, name string) (string, bool, error) {
	body, ok := s.graphs[name]
	return body, ok, nil
}
func (s *stubGraphs) Replace(ctx context.Context, name, statements string) error {
	s.graphs[name] = statements
	return nil
}
func (s *stubGraphs) Delete(ctx context.Context, name string) error {
	delete(s.graphs, name)
	return nil
}

func newTestRouter(t *testing.T, graphs ingest.GraphStore) (*mux.Router, store.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	st := sqlite.NewWithDB(db)
	t.Cleanup(func() { _ = st.Close() })

	orch := ingest.New(st, graphs, ingest.Config{KeepVersions: true, KeepVersionsForDeleted: true}, zerolog.Nop())
	router := NewRouter(Deps{
		Orchestrator: orch,
		Feed:         activity.NewService(st, testBaseURL, 100),
		TimeMaps:     memento.NewService(st, testBaseURL),
		Store:        st,
		Healthy:      func() bool { return true },
	})
	return router, st
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func ingestDoc(t *testing.T, router http.Handler, body string) {
	t.Helper()
	rr := do(t, router, "POST", "/ingest", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest returned %d: %s", rr.Code, rr.Body.String())
	}
}

func sampleDoc(id, name string) string {
	return fmt.Sprintf(`{"@context":{"id":"@id","name":"http://schema.org/name"},"id":%q,"type":"Object","name":%q}`, id, name)
}

func TestIngestAndReadRecord(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(t, router, "POST", "/ingest", sampleDoc("object/1", "First"))
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest returned %d: %s", rr.Code, rr.Body.String())
	}
	var results map[string]*string
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if results["object/1"] == nil || *results["object/1"] != "object/1" {
		t.Fatalf("results = %v", results)
	}

	rr = do(t, router, "GET", "/data/object/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get record returned %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != contentTypeJSONLD {
		t.Fatalf("content type = %s", ct)
	}
	if rr.Header().Get("Last-Modified") == "" {
		t.Fatalf("missing Last-Modified")
	}
	if !strings.Contains(rr.Body.String(), "First") {
		t.Fatalf("record body = %s", rr.Body.String())
	}

	if rr := do(t, router, "GET", "/data/object/none", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown record returned %d", rr.Code)
	}
}

func TestIngestValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	batch := sampleDoc("object/1", "ok") + "\n" + `{"name":"no id"}`
	rr := do(t, router, "POST", "/ingest", batch)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "line 2") {
		t.Fatalf("error does not name the line: %s", rr.Body.String())
	}
}

func TestActivityFeedEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	ingestDoc(t, router, sampleDoc("object/1", "First"))
	ingestDoc(t, router, sampleDoc("object/1", "Second"))
	ingestDoc(t, router, `{"id":"object/1","_delete":true}`)

	rr := do(t, router, "GET", "/activity-stream", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("collection returned %d", rr.Code)
	}
	var col activity.Collection
	if err := json.Unmarshal(rr.Body.Bytes(), &col); err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	if col.TotalItems != 3 {
		t.Fatalf("totalItems = %d, want 3", col.TotalItems)
	}

	rr = do(t, router, "GET", "/activity-stream/page/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("page 1 returned %d", rr.Code)
	}
	var page activity.Page
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.OrderedItems) != 3 {
		t.Fatalf("page has %d items, want 3", len(page.OrderedItems))
	}
	if page.OrderedItems[0].Type != "Create" || page.OrderedItems[2].Type != "Delete" {
		t.Fatalf("unexpected event order: %s .. %s", page.OrderedItems[0].Type, page.OrderedItems[2].Type)
	}

	// symbolic pages
	for _, alias := range []string{"first", "last", "current"} {
		if rr := do(t, router, "GET", "/activity-stream/"+alias, ""); rr.Code != http.StatusOK {
			t.Fatalf("alias %s returned %d", alias, rr.Code)
		}
	}

	// bare-UUID lookup, using an id from the page itself
	uuid := strings.TrimPrefix(page.OrderedItems[0].ID, testBaseURL+"/activity-stream/")
	if rr := do(t, router, "GET", "/activity-stream/"+uuid, ""); rr.Code != http.StatusOK {
		t.Fatalf("uuid lookup returned %d", rr.Code)
	}

	// filtered feeds
	rr = do(t, router, "GET", "/activity-stream/type/Object", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("type feed returned %d", rr.Code)
	}
	rr = do(t, router, "GET", "/activity-stream/entity/object/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("entity feed returned %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &col); err != nil {
		t.Fatalf("decode entity feed: %v", err)
	}
	if col.TotalItems != 3 {
		t.Fatalf("entity feed totalItems = %d", col.TotalItems)
	}
	if rr := do(t, router, "GET", "/activity-stream/entity/object/1/page/1", ""); rr.Code != http.StatusOK {
		t.Fatalf("entity feed page returned %d", rr.Code)
	}

	// out-of-range page is not found
	if rr := do(t, router, "GET", "/activity-stream/page/9", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("out-of-range page returned %d", rr.Code)
	}
}

func TestTruncateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	ingestDoc(t, router, sampleDoc("object/1", "First"))
	ingestDoc(t, router, sampleDoc("object/1", "Second"))
	ingestDoc(t, router, sampleDoc("object/1", "Third"))

	rr := do(t, router, "POST", "/activity-stream/truncate/object/1", `{"keep":1,"keepOldest":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("truncate returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Removed int64 `json:"removed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Removed != 1 {
		t.Fatalf("removed = %d, want 1", resp.Removed)
	}

	// keep at least as many as exist removes nothing
	rr = do(t, router, "POST", "/activity-stream/truncate/object/1", `{"keep":10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("truncate floor returned %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Removed != 0 {
		t.Fatalf("floor removed %d", resp.Removed)
	}

	if rr := do(t, router, "POST", "/activity-stream/truncate/object/none", `{"keep":1}`); rr.Code != http.StatusNotFound {
		t.Fatalf("truncate unknown entity returned %d", rr.Code)
	}
}

func TestTimeMapEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	ingestDoc(t, router, sampleDoc("object/1", "First"))
	ingestDoc(t, router, sampleDoc("object/1", "Second"))

	rr := do(t, router, "GET", "/timemap/object/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("timemap returned %d", rr.Code)
	}
	var links []memento.Link
	if err := json.Unmarshal(rr.Body.Bytes(), &links); err != nil {
		t.Fatalf("decode timemap: %v", err)
	}
	// self, original timegate, one memento
	if len(links) != 3 {
		t.Fatalf("timemap has %d links, want 3", len(links))
	}
	if links[2].Rel != "first last memento" {
		t.Fatalf("memento rel = %s", links[2].Rel)
	}

	// the memento snapshot itself is servable
	mementoPath := strings.TrimPrefix(links[2].URI, testBaseURL)
	rr = do(t, router, "GET", mementoPath, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("memento fetch returned %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "First") {
		t.Fatalf("memento body = %s", rr.Body.String())
	}

	// content negotiation
	req := httptest.NewRequest("GET", "/timemap/object/1", nil)
	req.Header.Set("Accept", "application/link-format")
	lf := httptest.NewRecorder()
	router.ServeHTTP(lf, req)
	if ct := lf.Header().Get("Content-Type"); ct != "application/link-format" {
		t.Fatalf("negotiated content type = %s", ct)
	}
	if !strings.Contains(lf.Body.String(), `rel="original timegate"`) {
		t.Fatalf("link format body = %s", lf.Body.String())
	}

	if rr := do(t, router, "GET", "/timemap/object/none", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("timemap for unknown entity returned %d", rr.Code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	graphs := &stubGraphs{graphs: map[string]string{}}
	router, _ := newTestRouter(t, graphs)

	ingestDoc(t, router, sampleDoc("object/1", "First"))

	rr := do(t, router, "POST", "/reconcile", `{"ids":["object/1","object/none"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("reconcile returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results map[string]string `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Results["object/1"] != ingest.OutcomeRefreshed {
		t.Fatalf("object/1 outcome = %s", resp.Results["object/1"])
	}
	if resp.Results["object/none"] != ingest.OutcomeDeleted {
		t.Fatalf("object/none outcome = %s", resp.Results["object/none"])
	}

	if rr := do(t, router, "POST", "/reconcile", `{"ids":[]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty reconcile returned %d", rr.Code)
	}
}

func TestReconcileWithoutGraphStore(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(t, router, "POST", "/reconcile", `{"ids":["object/1"]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(t, router, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health returned %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ok") {
		t.Fatalf("health body = %s", rr.Body.String())
	}
}
