// Package recon keeps the vector store's index consistent with the
// documents on disk: status snapshots, orphan cleanup and ingestion
// triggering, all behind a short-TTL snapshot cache.
package recon

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/docufort/ragproxy/cache"
	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/jobs"
	"github.com/docufort/ragproxy/internal/upstream"
	"github.com/docufort/ragproxy/internal/vector"
)

// Scan bounds. The scroll cap trades completeness for availability: a
// runaway collection marks the snapshot truncated instead of scanning
// forever.
const (
	scrollPageSize = 256
	maxScrollPages = 40
)

// payloadPathKeys are tried in order when extracting the source path from an
// indexed point's payload.
var payloadPathKeys = []string{"file_path", "path", "source"}

// DocStats aggregates the reconciliation counts for one collection.
type DocStats struct {
	Total     int  `json:"total"`
	Indexed   int  `json:"indexed"`
	Missing   int  `json:"missing"`
	Orphans   int  `json:"orphans"`
	Truncated bool `json:"truncated,omitempty"`
}

// StatusSnapshot is the cached reconciliation view of one collection.
type StatusSnapshot struct {
	Collection         string          `json:"collection"`
	Timestamp          time.Time       `json:"timestamp"`
	Success            bool            `json:"success"`
	ServiceHealth      map[string]bool `json:"service_health"`
	IndexedCount       int             `json:"indexed_count"`
	Documentation      DocStats        `json:"documentation"`
	CollectionsSummary []string        `json:"collections_summary"`
	ScanError          string          `json:"scan_error,omitempty"`
}

// CleanupResult reports one orphan-cleanup pass. A delete failure reports
// zero deletions and success false; partial application is never silent.
type CleanupResult struct {
	Success        bool   `json:"success"`
	OrphansFound   int    `json:"orphans_found"`
	OrphansDeleted int    `json:"orphans_deleted"`
	Error          string `json:"error,omitempty"`
}

// IngestOptions pre-fills an ingestion run; empty fields are inferred from
// the collection name.
type IngestOptions struct {
	Model     string
	ChunkSize int
	Force     bool
}

// IngestAck acknowledges a triggered ingestion.
type IngestAck struct {
	Success    bool   `json:"success"`
	JobID      string `json:"job_id"`
	Collection string `json:"collection"`
	Model      string `json:"model"`
	ChunkSize  int    `json:"chunk_size"`
	Queued     bool   `json:"queued"`
}

// Engine is the reconciliation engine. It reuses the breaker primitive for
// vector store calls and keeps its own short-TTL snapshot cache.
type Engine struct {
	vector     *vector.Client
	vecBreaker *breaker.Breaker
	query      *upstream.Client
	ingestion  *upstream.Client
	registry   *CollectionRegistry
	snapshots  *cache.Local
	queue      *asynq.Client // nil: ingestion runs synchronously
	log        zerolog.Logger
}

// Options wires an Engine.
type Options struct {
	Vector        *vector.Client
	VectorBreaker *breaker.Breaker
	Query         *upstream.Client
	Ingestion     *upstream.Client
	Registry      *CollectionRegistry
	Queue         *asynq.Client
	SnapshotTTL   time.Duration
	Log           zerolog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(opts Options) *Engine {
	ttl := opts.SnapshotTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		vector:     opts.Vector,
		vecBreaker: opts.VectorBreaker,
		query:      opts.Query,
		ingestion:  opts.Ingestion,
		registry:   opts.Registry,
		snapshots:  cache.NewLocal(64, ttl),
		queue:      opts.Queue,
		log:        opts.Log,
	}
}

// Registry exposes the collection-to-directory registry.
func (e *Engine) Registry() *CollectionRegistry { return e.registry }

// Status returns the reconciliation snapshot for a collection, computing it
// on cache miss. Snapshots cache under the lower-cased collection name.
func (e *Engine) Status(ctx context.Context, collection string) (StatusSnapshot, bool, error) {
	if collection == "" {
		collection = cache.DefaultCollection
	}
	key := snapshotKey(collection)

	if raw, ok := e.snapshots.Get(key); ok {
		var snap StatusSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap, true, nil
		}
		e.snapshots.Invalidate(key)
	}

	snap := e.computeStatus(ctx, collection)
	if data, err := json.Marshal(snap); err == nil {
		e.snapshots.Set(key, data)
	}
	return snap, false, nil
}

// computeStatus runs the full reconciliation pass: health probes, index
// count, bounded scroll, and disk listing, all concurrently.
func (e *Engine) computeStatus(ctx context.Context, collection string) StatusSnapshot {
	snap := StatusSnapshot{
		Collection:    collection,
		Timestamp:     time.Now().UTC(),
		Success:       true,
		ServiceHealth: make(map[string]bool),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex

		indexedCount int
		countErr     error
		indexed      map[string][]any
		truncated    bool
		scanErr      error
		disk         map[string]struct{}
		diskErr      error
		collections  []string
	)

	wg.Add(4)

	go func() {
		defer wg.Done()
		queryOK := e.query.Health(ctx) == nil
		var ingestionOK bool
		if e.ingestion != nil {
			ingestionOK = e.ingestion.Health(ctx) == nil
		}
		vectorOK := e.vector.Health(ctx) == nil
		mu.Lock()
		snap.ServiceHealth["query"] = queryOK
		snap.ServiceHealth["ingestion"] = ingestionOK
		snap.ServiceHealth["vector_store"] = vectorOK
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		n, err := e.countPoints(ctx, collection)
		mu.Lock()
		indexedCount, countErr = n, err
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		idx, trunc, err := e.scanIndexed(ctx, collection)
		mu.Lock()
		indexed, truncated, scanErr = idx, trunc, err
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		d, err := e.listDisk(collection)
		mu.Lock()
		disk, diskErr = d, err
		mu.Unlock()
	}()

	wg.Wait()

	// Collections summary goes through the same breaker as every other
	// vector call; when the store is down the listing is rejected without
	// another connection attempt and the summary stays empty.
	e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
		names, err := e.vector.ListCollections(callCtx)
		if err == nil {
			collections = names
		}
		return err
	})
	snap.CollectionsSummary = collections

	if countErr == nil {
		snap.IndexedCount = indexedCount
	}

	switch {
	case scanErr != nil:
		snap.Success = false
		snap.ScanError = scanErr.Error()
		e.log.Warn().Err(scanErr).Str("collection", collection).Msg("index scan failed, snapshot is partial")
	case diskErr != nil:
		snap.Success = false
		snap.ScanError = diskErr.Error()
		e.log.Warn().Err(diskErr).Str("collection", collection).Msg("disk listing failed, snapshot is partial")
	default:
		missing, orphans := ComputeDiff(indexed, disk)
		snap.Documentation = DocStats{
			Total:     len(disk),
			Indexed:   len(indexed),
			Missing:   len(missing),
			Orphans:   countOrphanPaths(orphans),
			Truncated: truncated,
		}
	}
	return snap
}

// CleanOrphans re-derives the orphan set and issues one batched delete.
func (e *Engine) CleanOrphans(ctx context.Context, collection string) CleanupResult {
	if collection == "" {
		collection = cache.DefaultCollection
	}

	indexed, _, err := e.scanIndexed(ctx, collection)
	if err != nil {
		return CleanupResult{Error: "index scan failed: " + err.Error()}
	}
	disk, err := e.listDisk(collection)
	if err != nil {
		return CleanupResult{Error: "disk listing failed: " + err.Error()}
	}

	_, orphans := ComputeDiff(indexed, disk)
	result := CleanupResult{OrphansFound: countOrphanPaths(orphans)}
	if len(orphans) == 0 {
		result.Success = true
		return result
	}

	ids := make([]any, 0, len(orphans))
	for _, o := range orphans {
		ids = append(ids, o.PointID)
	}

	out := e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
		return e.vector.DeletePoints(callCtx, collection, ids)
	})
	if out.Kind != breaker.Succeeded {
		msg := "vector store unavailable"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		e.log.Error().Str("collection", collection).Str("reason", msg).Msg("orphan delete failed")
		return CleanupResult{OrphansFound: result.OrphansFound, Error: msg}
	}

	result.Success = true
	result.OrphansDeleted = result.OrphansFound
	e.Invalidate(collection)
	e.log.Info().
		Str("collection", collection).
		Int("deleted", result.OrphansDeleted).
		Msg("orphans cleaned")
	return result
}

// TriggerIngestion enqueues an ingestion run (or calls the ingestion engine
// directly when no queue is configured) and invalidates the snapshot.
func (e *Engine) TriggerIngestion(ctx context.Context, collection string, opts IngestOptions) (IngestAck, error) {
	if collection == "" {
		collection = cache.DefaultCollection
	}
	model, chunkSize := opts.Model, opts.ChunkSize
	if model == "" || chunkSize == 0 {
		inferredModel, inferredChunk := InferIngestionParams(collection)
		if model == "" {
			model = inferredModel
		}
		if chunkSize == 0 {
			chunkSize = inferredChunk
		}
	}

	ack := IngestAck{
		JobID:      uuid.NewString(),
		Collection: collection,
		Model:      model,
		ChunkSize:  chunkSize,
	}

	if e.queue != nil {
		task, err := jobs.NewIngestTask(jobs.IngestPayload{
			JobID:      ack.JobID,
			Collection: collection,
			Model:      model,
			ChunkSize:  chunkSize,
			Force:      opts.Force,
		})
		if err != nil {
			return IngestAck{}, err
		}
		if _, err := e.queue.EnqueueContext(ctx, task,
			asynq.Queue(jobs.QueueIngest),
			asynq.MaxRetry(3),
			asynq.Timeout(10*time.Minute),
		); err != nil {
			return IngestAck{}, err
		}
		ack.Queued = true
	} else if e.ingestion != nil {
		if _, err := e.ingestion.TriggerIngestion(ctx, upstream.IngestRequest{
			Collection: collection,
			Model:      model,
			ChunkSize:  chunkSize,
			Force:      opts.Force,
		}); err != nil {
			return IngestAck{}, err
		}
	}

	ack.Success = true
	e.Invalidate(collection)
	return ack, nil
}

// CreateOptions pre-fills a collection creation; empty fields are inferred
// from the collection name.
type CreateOptions struct {
	Model     string
	SourceDir string
}

// CreateCollection creates the collection in the vector store, sized for its
// embedding model, and registers the source directory reconciliation will
// scan for it.
func (e *Engine) CreateCollection(ctx context.Context, collection string, opts CreateOptions) error {
	model := opts.Model
	if model == "" {
		model, _ = InferIngestionParams(collection)
	}

	out := e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
		return e.vector.CreateCollection(callCtx, collection, InferVectorDim(model))
	})
	if out.Kind != breaker.Succeeded {
		return outcomeErr(out)
	}

	dir := opts.SourceDir
	if dir == "" {
		dir = e.registry.Resolve(collection)
	}
	e.registry.Register(collection, dir)
	e.Invalidate(collection)
	e.log.Info().
		Str("collection", collection).
		Str("model", model).
		Str("source_dir", dir).
		Msg("collection created")
	return nil
}

// DeleteCollection drops the collection from the vector store and forgets
// its registry binding and snapshot.
func (e *Engine) DeleteCollection(ctx context.Context, collection string) error {
	out := e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
		return e.vector.DeleteCollection(callCtx, collection)
	})
	if out.Kind != breaker.Succeeded {
		if out.Err != nil {
			return out.Err
		}
		return context.DeadlineExceeded
	}
	e.registry.Unregister(collection)
	e.Invalidate(collection)
	return nil
}

// Invalidate drops the snapshot for one collection, or all snapshots when
// collection is empty. Mutating actions call this so the next status read
// reflects them.
func (e *Engine) Invalidate(collection string) {
	if collection == "" {
		e.snapshots.Clear()
		return
	}
	e.snapshots.Invalidate(snapshotKey(collection))
}

// countPoints counts indexed records through the vector breaker.
func (e *Engine) countPoints(ctx context.Context, collection string) (int, error) {
	var n int
	out := e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
		var err error
		n, err = e.vector.Count(callCtx, collection)
		return err
	})
	if out.Kind != breaker.Succeeded {
		return 0, outcomeErr(out)
	}
	return n, nil
}

// scanIndexed paginates through the collection, normalizing each stored
// path. Iteration is capped; hitting the cap marks the result truncated
// rather than erroring.
func (e *Engine) scanIndexed(ctx context.Context, collection string) (map[string][]any, bool, error) {
	indexed := make(map[string][]any)
	var offset any
	for page := 0; page < maxScrollPages; page++ {
		var (
			points []vector.Point
			next   any
		)
		out := e.vecBreaker.Do(ctx, func(callCtx context.Context) error {
			var err error
			points, next, err = e.vector.Scroll(callCtx, collection, offset, scrollPageSize)
			return err
		})
		if out.Kind != breaker.Succeeded {
			return nil, false, outcomeErr(out)
		}

		for _, pt := range points {
			if p, ok := pointPath(pt); ok {
				indexed[p] = append(indexed[p], pt.ID)
			}
		}
		if next == nil {
			return indexed, false, nil
		}
		offset = next
	}
	return indexed, true, nil
}

// listDisk recursively lists the collection's source directory, keeping
// only recognized document files as normalized relative paths.
func (e *Engine) listDisk(collection string) (map[string]struct{}, error) {
	dir := e.registry.Resolve(collection)
	disk := make(map[string]struct{})

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsDocument(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		disk[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return disk, nil
}

func pointPath(pt vector.Point) (string, bool) {
	for _, key := range payloadPathKeys {
		if v, ok := pt.Payload[key]; ok {
			if s, ok := v.(string); ok {
				return NormalizePath(s)
			}
		}
	}
	return "", false
}

func countOrphanPaths(orphans []OrphanRecord) int {
	seen := make(map[string]struct{})
	for _, o := range orphans {
		seen[o.NormalizedPath] = struct{}{}
	}
	return len(seen)
}

func outcomeErr(out breaker.Outcome) error {
	if out.Err != nil {
		return out.Err
	}
	switch out.Kind {
	case breaker.TimedOut:
		return context.DeadlineExceeded
	default:
		return errBreakerOpen
	}
}

var errBreakerOpen = &breakerOpenError{}

type breakerOpenError struct{}

func (*breakerOpenError) Error() string { return "vector store breaker open" }

func snapshotKey(collection string) string {
	return "status:" + strings.ToLower(collection)
}
