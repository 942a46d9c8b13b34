package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/cache"
	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
)

const (
	dataFile     = "data.csg"
	metadataFile = "metadata.json"
	schemaFile   = "schema.json"
	statsFile    = "stats.json"

	// DefaultLoadCacheTTL bounds how long a loaded snapshot stays in memory.
	// Snapshots are immutable so staleness is only a concern after deletion,
	// which invalidates explicitly.
	DefaultLoadCacheTTL = time.Hour
)

var (
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Error wraps a store failure with the operation and snapshot involved.
type Error struct {
	Op         string
	SnapshotID string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.SnapshotID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StorageInfo summarizes the on-disk footprint of the store.
type StorageInfo struct {
	BasePath      string `json:"base_path"`
	SnapshotCount int    `json:"snapshot_count"`
	TotalBytes    int64  `json:"total_bytes"`
}

// Store persists immutable feature snapshots as columnar segments with JSON
// sidecars for metadata, schema, and per-column statistics.
type Store struct {
	basePath string
	loadTTL  time.Duration
	metrics  *metrics.Registry

	mu        sync.Mutex
	loadCache *cache.TTLCache
	cacheKeys map[string][]string // snapshot id -> cache keys holding it
}

// New opens a store rooted at basePath, creating the directory if needed.
func New(basePath string, reg *metrics.Registry) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("store base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		basePath:  basePath,
		loadTTL:   DefaultLoadCacheTTL,
		metrics:   reg,
		loadCache: cache.NewTTLCache(64),
		cacheKeys: make(map[string][]string),
	}, nil
}

// Close releases the load cache cleanup goroutine.
func (s *Store) Close() { s.loadCache.Stop() }

func (s *Store) dir(snapshotID string) string {
	return filepath.Join(s.basePath, snapshotID)
}

// SnapshotExists reports whether a snapshot with the given id is on disk.
func (s *Store) SnapshotExists(snapshotID string) bool {
	_, err := os.Stat(filepath.Join(s.dir(snapshotID), dataFile))
	return err == nil
}

// SaveFeatures persists a feature table under snapshotID. Snapshots are
// immutable; saving over an existing id fails with ErrSnapshotExists.
func (s *Store) SaveFeatures(ctx context.Context, snapshotID string, table *domain.FeatureTable, meta domain.SnapshotMetadata) (*domain.SaveSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
	}
	if snapshotID == "" || strings.ContainsAny(snapshotID, `/\`) {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: fmt.Errorf("invalid snapshot id")}
	}
	if table == nil || table.NumRows() == 0 {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: fmt.Errorf("empty feature table")}
	}
	if s.SnapshotExists(snapshotID) {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: ErrSnapshotExists}
	}

	segment, err := encodeTable(table)
	if err != nil {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
	}

	meta.SnapshotID = snapshotID
	meta.RowCount = table.NumRows()
	meta.ColumnCount = table.NumCols()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	// Stage into a temp dir and rename so a crash never leaves a snapshot
	// that exists but is missing files.
	tmp, err := os.MkdirTemp(s.basePath, "."+snapshotID+".tmp-")
	if err != nil {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
	}
	defer os.RemoveAll(tmp)

	sidecars := map[string]any{
		metadataFile: meta,
		schemaFile:   table.Schema(),
		statsFile:    table.Statistics(),
	}
	if err := os.WriteFile(filepath.Join(tmp, dataFile), segment, 0o644); err != nil {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
	}
	for name, payload := range sidecars {
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
		}
		if err := os.WriteFile(filepath.Join(tmp, name), raw, 0o644); err != nil {
			return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
		}
	}
	if err := os.Rename(tmp, s.dir(snapshotID)); err != nil {
		return nil, &Error{Op: "save", SnapshotID: snapshotID, Err: err}
	}

	s.metrics.RecordSnapshotSaved()
	log.Info().
		Str("snapshot_id", snapshotID).
		Int("rows", meta.RowCount).
		Int("columns", meta.ColumnCount).
		Int("bytes", len(segment)).
		Msg("Snapshot saved")

	return &domain.SaveSummary{
		SnapshotID:  snapshotID,
		RowCount:    meta.RowCount,
		ColumnCount: meta.ColumnCount,
		Bytes:       int64(len(segment)),
		Path:        s.dir(snapshotID),
	}, nil
}

// LoadFeatures reads a snapshot, optionally projecting to the named columns.
// Identifier columns are always included. Loaded tables are cached per
// projection; callers must treat the returned table as read-only.
func (s *Store) LoadFeatures(ctx context.Context, snapshotID string, columns []string) (*domain.FeatureTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "load", SnapshotID: snapshotID, Err: err}
	}

	key := loadKey(snapshotID, columns)
	if v, hit := s.loadCache.Get(key); hit {
		s.metrics.RecordSnapshotLoaded("cache")
		return v.(*domain.FeatureTable), nil
	}

	raw, err := os.ReadFile(filepath.Join(s.dir(snapshotID), dataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Op: "load", SnapshotID: snapshotID, Err: ErrSnapshotNotFound}
		}
		return nil, &Error{Op: "load", SnapshotID: snapshotID, Err: err}
	}
	table, err := decodeTable(raw, columns)
	if err != nil {
		return nil, &Error{Op: "load", SnapshotID: snapshotID, Err: err}
	}

	s.loadCache.Set(key, table, s.loadTTL)
	s.mu.Lock()
	s.cacheKeys[snapshotID] = append(s.cacheKeys[snapshotID], key)
	s.mu.Unlock()

	s.metrics.RecordSnapshotLoaded("disk")
	return table, nil
}

// DeleteSnapshot removes a snapshot from disk and drops any cached loads.
func (s *Store) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "delete", SnapshotID: snapshotID, Err: err}
	}
	if !s.SnapshotExists(snapshotID) {
		return &Error{Op: "delete", SnapshotID: snapshotID, Err: ErrSnapshotNotFound}
	}
	if err := os.RemoveAll(s.dir(snapshotID)); err != nil {
		return &Error{Op: "delete", SnapshotID: snapshotID, Err: err}
	}

	s.mu.Lock()
	for _, key := range s.cacheKeys[snapshotID] {
		s.loadCache.Delete(key)
	}
	delete(s.cacheKeys, snapshotID)
	s.mu.Unlock()

	log.Info().Str("snapshot_id", snapshotID).Msg("Snapshot deleted")
	return nil
}

// ListSnapshots returns the ids of all stored snapshots in sorted order.
func (s *Store) ListSnapshots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "list", SnapshotID: "", Err: err}
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, &Error{Op: "list", SnapshotID: "", Err: err}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.SnapshotExists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetMetadata returns the metadata sidecar for a snapshot.
func (s *Store) GetMetadata(ctx context.Context, snapshotID string) (*domain.SnapshotMetadata, error) {
	var meta domain.SnapshotMetadata
	if err := s.readSidecar(ctx, "metadata", snapshotID, metadataFile, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetSchema returns the column name to kind mapping for a snapshot.
func (s *Store) GetSchema(ctx context.Context, snapshotID string) (map[string]string, error) {
	var schema map[string]string
	if err := s.readSidecar(ctx, "schema", snapshotID, schemaFile, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// GetStatistics returns the per-column statistics for a snapshot.
func (s *Store) GetStatistics(ctx context.Context, snapshotID string) (map[string]domain.ColumnStats, error) {
	var stats map[string]domain.ColumnStats
	if err := s.readSidecar(ctx, "stats", snapshotID, statsFile, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetStorageInfo reports the snapshot count and total bytes on disk.
func (s *Store) GetStorageInfo(ctx context.Context) (*StorageInfo, error) {
	ids, err := s.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	info := &StorageInfo{BasePath: s.basePath, SnapshotCount: len(ids)}
	for _, id := range ids {
		entries, err := os.ReadDir(s.dir(id))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if fi, err := e.Info(); err == nil {
				info.TotalBytes += fi.Size()
			}
		}
	}
	return info, nil
}

func (s *Store) readSidecar(ctx context.Context, op, snapshotID, file string, out any) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, SnapshotID: snapshotID, Err: err}
	}
	raw, err := os.ReadFile(filepath.Join(s.dir(snapshotID), file))
	if err != nil {
		if os.IsNotExist(err) {
			return &Error{Op: op, SnapshotID: snapshotID, Err: ErrSnapshotNotFound}
		}
		return &Error{Op: op, SnapshotID: snapshotID, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, SnapshotID: snapshotID, Err: err}
	}
	return nil
}

func loadKey(snapshotID string, columns []string) string {
	if len(columns) == 0 {
		return snapshotID + "|*"
	}
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	return snapshotID + "|" + strings.Join(sorted, ",")
}
