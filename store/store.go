// Package store persists artifact versions, content-addressed file blobs and
// comparison reports in a SQLite database under one root directory.
//
// Versions are append-only: Save accepts only the next version of a
// lineage, and every file a version references is copied into the blob
// directory under its sha256 digest, where it is never modified again.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/LynnColeArt/sassplay"
)

var (
	// ErrNotFound indicates an unknown artifact, version or report.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates a Save that is not the next version.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	root    string
	blobDir string
	log     *zap.Logger
	now     func() time.Time
}

// Open opens or creates the store rooted at dir.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "sassplay.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, root: dir, blobDir: blobDir, log: log, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	blobTable := `
	CREATE TABLE IF NOT EXISTS blobs (
		digest TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	artifactTable := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		stage TEXT NOT NULL,
		arch TEXT,
		parent_version INTEGER,
		backup_json TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);
	`

	fileTable := `
	CREATE TABLE IF NOT EXISTS artifact_files (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		representation TEXT NOT NULL,
		path TEXT NOT NULL,
		digest TEXT NOT NULL REFERENCES blobs(digest),
		PRIMARY KEY (id, version, representation)
	);
	`

	reportTable := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		family TEXT NOT NULL,
		baseline_id TEXT NOT NULL,
		baseline_version INTEGER NOT NULL,
		modified_id TEXT NOT NULL,
		modified_version INTEGER NOT NULL,
		speedup REAL,
		both_correct INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_baseline ON reports(baseline_id);
	CREATE INDEX IF NOT EXISTS idx_reports_modified ON reports(modified_id);
	`

	for _, table := range []string{blobTable, artifactTable, fileTable, reportTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Put copies the file at path into the blob directory and returns its
// digest and immutable blob path. Identical content is stored once.
func (s *Store) Put(path string) (digest, blobPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(path)
}

func (s *Store) put(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	blobPath := filepath.Join(s.blobDir, digest[:2], digest+filepath.Ext(path))

	if _, err := os.Stat(blobPath); errors.Is(err, os.ErrNotExist) {
		if err := writeImmutable(blobPath, data); err != nil {
			return "", "", err
		}
		s.log.Debug("blob stored", zap.String("digest", digest), zap.Int("size", len(data)))
	} else if err != nil {
		return "", "", err
	}

	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO blobs (digest, path, size) VALUES (?, ?, ?)",
		digest, blobPath, len(data),
	); err != nil {
		return "", "", fmt.Errorf("index blob: %w", err)
	}
	return digest, blobPath, nil
}

// writeImmutable writes data through a temporary file and leaves the
// result read-only.
func writeImmutable(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o444); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Snapshot implements sassplay.Snapshotter.
func (s *Store) Snapshot(path string) (sassplay.Snapshot, error) {
	digest, blobPath, err := s.Put(path)
	if err != nil {
		return sassplay.Snapshot{}, err
	}
	return sassplay.Snapshot{Digest: digest, Path: blobPath, TakenAt: s.now()}, nil
}

// BlobPath returns the stored path of a digest.
func (s *Store) BlobPath(digest string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p string
	err := s.db.QueryRow("SELECT path FROM blobs WHERE digest = ?", digest).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("blob %s: %w", digest, ErrNotFound)
	}
	return p, err
}

// Save records a new version. It must be version 1 of a new lineage or the
// successor of the latest stored version. Every referenced file is stored
// as a blob and the returned artifact carries the digests.
func (s *Store) Save(a sassplay.Artifact) (sassplay.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM artifacts WHERE id = ?", a.ID).Scan(&latest); err != nil {
		return a, err
	}
	if int64(a.Version) != latest.Int64+1 {
		return a, fmt.Errorf("save %s: latest stored version is %d: %w", a.Ref(), latest.Int64, ErrVersionConflict)
	}

	digests := make(map[sassplay.Representation]string, len(a.Files))
	for rep, path := range a.Files {
		d, _, err := s.put(path)
		if err != nil {
			return a, fmt.Errorf("save %s: %w", a.Ref(), err)
		}
		digests[rep] = d
	}

	var backup sql.NullString
	if a.Backup != nil {
		b, err := json.Marshal(a.Backup)
		if err != nil {
			return a, err
		}
		backup = sql.NullString{String: string(b), Valid: true}
	}
	var parent sql.NullInt64
	if a.Parent != nil {
		parent = sql.NullInt64{Int64: int64(a.Parent.Version), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO artifacts (id, version, stage, arch, parent_version, backup_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Version, a.Stage.String(), a.Arch, parent, backup, a.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return a, fmt.Errorf("save %s: %w", a.Ref(), err)
	}
	for rep, path := range a.Files {
		if _, err := tx.Exec(
			"INSERT INTO artifact_files (id, version, representation, path, digest) VALUES (?, ?, ?, ?, ?)",
			a.ID, a.Version, string(rep), path, digests[rep],
		); err != nil {
			return a, fmt.Errorf("save %s: %w", a.Ref(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}

	saved := a
	saved.Digests = digests
	s.log.Info("artifact version saved",
		zap.String("artifact", a.ID),
		zap.Int("version", a.Version),
		zap.Stringer("stage", a.Stage))
	return saved, nil
}

// Latest returns the newest version of a lineage.
func (s *Store) Latest(id string) (sassplay.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM artifacts WHERE id = ?", id).Scan(&v); err != nil {
		return sassplay.Artifact{}, err
	}
	if !v.Valid {
		return sassplay.Artifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	return s.load(id, int(v.Int64))
}

// Version returns one stored version.
func (s *Store) Version(id string, version int) (sassplay.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id, version)
}

// Get resolves a Ref; version 0 means latest.
func (s *Store) Get(ref sassplay.Ref) (sassplay.Artifact, error) {
	if ref.Version == 0 {
		return s.Latest(ref.ID)
	}
	return s.Version(ref.ID, ref.Version)
}

// History returns every version of a lineage, oldest first.
func (s *Store) History(id string) ([]sassplay.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT version FROM artifacts WHERE id = ? ORDER BY version", id)
	if err != nil {
		return nil, err
	}
	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, err
		}
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}

	out := make([]sassplay.Artifact, 0, len(versions))
	for _, v := range versions {
		a, err := s.load(id, v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Lineages returns the latest version of every lineage, newest first.
func (s *Store) Lineages() ([]sassplay.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT id, MAX(version) FROM artifacts GROUP BY id")
	if err != nil {
		return nil, err
	}
	type head struct {
		id string
		v  int
	}
	var heads []head
	for rows.Next() {
		var h head
		if err := rows.Scan(&h.id, &h.v); err != nil {
			rows.Close()
			return nil, err
		}
		heads = append(heads, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]sassplay.Artifact, 0, len(heads))
	for _, h := range heads {
		a, err := s.load(h.id, h.v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Materialize returns a copy of a whose files point at the immutable blobs
// recorded for that version, so later edits to working files cannot change
// what the version refers to.
func (s *Store) Materialize(a sassplay.Artifact) (sassplay.Artifact, error) {
	m := a
	m.Files = make(map[sassplay.Representation]string, len(a.Files))
	for rep, path := range a.Files {
		d, ok := a.Digests[rep]
		if !ok {
			return a, fmt.Errorf("materialize %s: %s has no digest", a.Ref(), rep)
		}
		blob, err := s.BlobPath(d)
		if err != nil {
			return a, fmt.Errorf("materialize %s (%s): %w", a.Ref(), path, err)
		}
		m.Files[rep] = blob
	}
	return m, nil
}

func (s *Store) load(id string, version int) (sassplay.Artifact, error) {
	var (
		stage   string
		arch    sql.NullString
		parent  sql.NullInt64
		backup  sql.NullString
		created string
	)
	err := s.db.QueryRow(
		"SELECT stage, arch, parent_version, backup_json, created_at FROM artifacts WHERE id = ? AND version = ?",
		id, version,
	).Scan(&stage, &arch, &parent, &backup, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return sassplay.Artifact{}, fmt.Errorf("artifact %s@%d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return sassplay.Artifact{}, err
	}

	a := sassplay.Artifact{
		ID:      id,
		Version: version,
		Arch:    arch.String,
		Files:   map[sassplay.Representation]string{},
		Digests: map[sassplay.Representation]string{},
	}
	if a.Stage, err = sassplay.ParseStage(stage); err != nil {
		return a, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return a, err
	}
	if parent.Valid {
		a.Parent = &sassplay.Ref{ID: id, Version: int(parent.Int64)}
	}
	if backup.Valid {
		var b sassplay.Snapshot
		if err := json.Unmarshal([]byte(backup.String), &b); err != nil {
			return a, fmt.Errorf("decode backup of %s: %w", a.Ref(), err)
		}
		a.Backup = &b
	}

	rows, err := s.db.Query(
		"SELECT representation, path, digest FROM artifact_files WHERE id = ? AND version = ?",
		id, version,
	)
	if err != nil {
		return a, err
	}
	defer rows.Close()
	for rows.Next() {
		var rep, path, digest string
		if err := rows.Scan(&rep, &path, &digest); err != nil {
			return a, err
		}
		a.Files[sassplay.Representation(rep)] = path
		a.Digests[sassplay.Representation(rep)] = digest
	}
	return a, rows.Err()
}

// SaveReport persists a comparison report, assigning it an ID if it has
// none.
func (s *Store) SaveReport(r *sassplay.ComparisonReport) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	data, err := r.JSON()
	if err != nil {
		return "", err
	}
	var speedup sql.NullFloat64
	if r.Speedup != nil {
		speedup = sql.NullFloat64{Float64: *r.Speedup, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO reports (id, family, baseline_id, baseline_version, modified_id, modified_version, speedup, both_correct, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Family,
		r.Baseline.Artifact.ID, r.Baseline.Artifact.Version,
		r.Modified.Artifact.ID, r.Modified.Artifact.Version,
		speedup, r.BothCorrect, string(data),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return r.ID, nil
}

// Reports returns reports involving artifact id on either side, newest
// first. An empty id lists all reports. limit <= 0 means 20.
func (s *Store) Reports(id string, limit int) ([]*sassplay.ComparisonReport, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT report_json FROM reports ORDER BY created_at DESC LIMIT ?"
	args := []interface{}{limit}
	if id != "" {
		query = "SELECT report_json FROM reports WHERE baseline_id = ? OR modified_id = ? ORDER BY created_at DESC LIMIT ?"
		args = []interface{}{id, id, limit}
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sassplay.ComparisonReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := sassplay.ParseReport([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
