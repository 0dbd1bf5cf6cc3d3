package recon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/upstream"
	"github.com/docufort/ragproxy/internal/vector"
)

// fakeQdrant serves the vector store surface the engine touches: count,
// scroll, delete, collections list and readiness.
type fakeQdrant struct {
	paths       []string
	deleteCalls int64
	deleteFails bool
	deletedIDs  []any

	createdName     string
	createdDim      int
	createdDistance string
}

func (f *fakeQdrant) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/docs/points/count", func(w http.ResponseWriter, r *http.Request) {
		writeQdrant(w, map[string]any{"count": len(f.paths)})
	})
	mux.HandleFunc("/collections/docs/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		points := make([]map[string]any, 0, len(f.paths))
		for i, p := range f.paths {
			points = append(points, map[string]any{
				"id":      i + 1,
				"payload": map[string]any{"file_path": p},
			})
		}
		writeQdrant(w, map[string]any{"points": points, "next_page_offset": nil})
	})
	mux.HandleFunc("/collections/docs/points/delete", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.deleteCalls, 1)
		if f.deleteFails {
			http.Error(w, "delete rejected", http.StatusInternalServerError)
			return
		}
		var body struct {
			Points []any `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.deletedIDs = body.Points
		writeQdrant(w, map[string]any{"status": "acknowledged"})
	})
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		writeQdrant(w, map[string]any{"collections": []map[string]any{{"name": "docs"}}})
	})
	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.createdName = strings.TrimPrefix(r.URL.Path, "/collections/")
		f.createdDim = body.Vectors.Size
		f.createdDistance = body.Vectors.Distance
		writeQdrant(w, true)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return httptest.NewServer(mux)
}

func writeQdrant(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
}

func newTestEngine(t *testing.T, qdrantURL string, docsDir string) *Engine {
	t.Helper()

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	t.Cleanup(health.Close)

	vc, err := vector.New(qdrantURL)
	require.NoError(t, err)
	qc, err := upstream.New("query-engine", health.URL, "ragproxy-test")
	require.NoError(t, err)

	registry := NewCollectionRegistry(docsDir)
	registry.Register("docs", docsDir)

	return NewEngine(Options{
		Vector:        vc,
		VectorBreaker: breaker.New("vector-store", breaker.DefaultConfig(), zerolog.Nop()),
		Query:         qc,
		Registry:      registry,
		SnapshotTTL:   time.Minute,
		Log:           zerolog.Nop(),
	})
}

func writeDoc(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("# doc\n"), 0o644))
}

func TestStatusComputesDiff(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.md")
	writeDoc(t, dir, "c.md")

	fake := &fakeQdrant{paths: []string{"a.md", "b.md"}}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)

	snap, cached, err := e.Status(context.Background(), "docs")
	require.NoError(t, err)
	require.False(t, cached)
	require.True(t, snap.Success)
	require.Equal(t, 2, snap.IndexedCount)
	require.Equal(t, DocStats{Total: 2, Indexed: 2, Missing: 1, Orphans: 1}, snap.Documentation)
	require.True(t, snap.ServiceHealth["query"])
	require.True(t, snap.ServiceHealth["vector_store"])
	require.Equal(t, []string{"docs"}, snap.CollectionsSummary)
}

func TestStatusServedFromCache(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.md")

	fake := &fakeQdrant{paths: []string{"a.md"}}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)
	ctx := context.Background()

	_, cached, err := e.Status(ctx, "docs")
	require.NoError(t, err)
	require.False(t, cached)

	_, cached, err = e.Status(ctx, "DOCS") // case-insensitive cache key
	require.NoError(t, err)
	require.True(t, cached)

	e.Invalidate("docs")
	_, cached, err = e.Status(ctx, "docs")
	require.NoError(t, err)
	require.False(t, cached, "invalidation must force recomputation")
}

func TestCleanOrphans(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.md")

	fake := &fakeQdrant{paths: []string{"a.md", "b.md", "b.md"}}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)

	result := e.CleanOrphans(context.Background(), "docs")
	require.True(t, result.Success)
	require.Equal(t, 1, result.OrphansFound)
	require.Equal(t, 1, result.OrphansDeleted)
	require.Equal(t, int64(1), atomic.LoadInt64(&fake.deleteCalls))
	// Both chunk points of b.md go in one batched delete.
	require.Len(t, fake.deletedIDs, 2)
}

func TestCleanOrphansDeleteFailure(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.md")

	fake := &fakeQdrant{paths: []string{"a.md", "b.md"}, deleteFails: true}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)

	result := e.CleanOrphans(context.Background(), "docs")
	require.False(t, result.Success)
	require.Equal(t, 1, result.OrphansFound)
	require.Equal(t, 0, result.OrphansDeleted)
	require.NotEmpty(t, result.Error)
}

func TestCleanOrphansNothingToDo(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.md")

	fake := &fakeQdrant{paths: []string{"a.md"}}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)

	result := e.CleanOrphans(context.Background(), "docs")
	require.True(t, result.Success)
	require.Zero(t, result.OrphansFound)
	require.Zero(t, atomic.LoadInt64(&fake.deleteCalls))
}

func TestTriggerIngestionInfersParams(t *testing.T) {
	var gotReq upstream.IngestRequest
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ingest", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer ingest.Close()

	dir := t.TempDir()
	fake := &fakeQdrant{}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, dir)
	ic, err := upstream.New("ingestion-engine", ingest.URL, "ragproxy-test")
	require.NoError(t, err)
	e.ingestion = ic

	ack, err := e.TriggerIngestion(context.Background(), "codebase", IngestOptions{})
	require.NoError(t, err)
	require.True(t, ack.Success)
	require.False(t, ack.Queued, "no queue configured, ingestion runs synchronously")
	require.NotEmpty(t, ack.JobID)
	require.Equal(t, "voyage-code-3", gotReq.Model)
	require.Equal(t, 512, gotReq.ChunkSize)
}

func TestCreateCollectionRegistersSource(t *testing.T) {
	fake := &fakeQdrant{}
	ts := fake.server(t)
	defer ts.Close()

	e := newTestEngine(t, ts.URL, t.TempDir())
	srcDir := t.TempDir()

	err := e.CreateCollection(context.Background(), "newdocs", CreateOptions{SourceDir: srcDir})
	require.NoError(t, err)
	require.Equal(t, "newdocs", fake.createdName)
	require.Equal(t, 768, fake.createdDim)
	require.Equal(t, "Cosine", fake.createdDistance)
	require.Equal(t, srcDir, e.Registry().Resolve("newdocs"))
}

func TestCreateCollectionInfersVectorWidth(t *testing.T) {
	fake := &fakeQdrant{}
	ts := fake.server(t)
	defer ts.Close()

	dir := t.TempDir()
	e := newTestEngine(t, ts.URL, dir)

	err := e.CreateCollection(context.Background(), "codebase", CreateOptions{})
	require.NoError(t, err)
	// Code collections infer voyage-code-3 embeddings.
	require.Equal(t, 1024, fake.createdDim)
	require.Equal(t, filepath.Join(dir, "codebase"), e.Registry().Resolve("codebase"))
}

func TestStatusCollectionsListingGuarded(t *testing.T) {
	var collectionsCalls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&collectionsCalls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer health.Close()

	vc, err := vector.New(ts.URL)
	require.NoError(t, err)
	qc, err := upstream.New("query-engine", health.URL, "ragproxy-test")
	require.NoError(t, err)

	e := NewEngine(Options{
		Vector: vc,
		VectorBreaker: breaker.New("vector-store", breaker.Config{
			FailureThreshold: 50,
			MinVolume:        1,
			Window:           time.Second,
			Buckets:          4,
			ResetInterval:    time.Minute,
			CallTimeout:      2 * time.Second,
		}, zerolog.Nop()),
		Query:       qc,
		Registry:    NewCollectionRegistry(t.TempDir()),
		SnapshotTTL: time.Minute,
		Log:         zerolog.Nop(),
	})

	snap, _, err := e.Status(context.Background(), "docs")
	require.NoError(t, err)
	require.False(t, snap.Success)
	// Count and scroll failures opened the breaker, so the listing was
	// rejected before issuing another request.
	require.Zero(t, atomic.LoadInt64(&collectionsCalls))
	require.Empty(t, snap.CollectionsSummary)
}

func TestCollectionRegistry(t *testing.T) {
	r := NewCollectionRegistry("/data/docs")

	require.Equal(t, "/data/docs", r.Resolve("default"))
	require.Equal(t, "/data/docs", r.Resolve(""))
	require.Equal(t, filepath.Join("/data/docs", "unknown"), r.Resolve("unknown"))

	r.Register("Custom", "/srv/custom")
	require.Equal(t, "/srv/custom", r.Resolve("custom"))
	require.Equal(t, "/srv/custom", r.Resolve("CUSTOM"))

	r.Unregister("custom")
	require.Equal(t, filepath.Join("/data/docs", "custom"), r.Resolve("custom"))
}
