package tracking

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spachava753/kedro-neptune/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists runs in a SQLite database. Several stores (and
// several processes) may open the same file; WAL mode and a busy timeout
// serialise the writers.
type SQLiteStore struct {
	db *sql.DB
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("tracking: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("tracking: zstd decoder initialization failed: " + err.Error())
	}
}

// OpenSQLiteStore creates or opens the database at path, creating parent
// directories as needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to run store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying run store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) OpenRun(ctx context.Context, req RunRequest) (models.RunInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RunInfo{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	info := models.RunInfo{
		CustomRunID: req.CustomRunID,
		Project:     req.Project,
		Mode:        req.Mode,
	}

	if req.CustomRunID != "" {
		var created string
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM runs WHERE project = ? AND custom_run_id = ?`,
			req.Project, req.CustomRunID,
		).Scan(&info.ID, &created)
		switch {
		case err == nil:
			info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
			info.Resumed = true
			return info, tx.Commit()
		case !errors.Is(err, sql.ErrNoRows):
			return models.RunInfo{}, fmt.Errorf("looking up run %s: %w", req.CustomRunID, err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM runs WHERE id LIKE ?`, projectKey(req.Project)+"-%",
	).Scan(&seq); err != nil {
		return models.RunInfo{}, fmt.Errorf("allocating run id: %w", err)
	}

	info.ID = formatRunID(req.Project, seq)
	info.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, project, custom_run_id, seq, mode, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, req.Project, req.CustomRunID, seq, req.Mode, info.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return models.RunInfo{}, fmt.Errorf("creating run: %w", err)
	}

	return info, tx.Commit()
}

func (s *SQLiteStore) PutField(ctx context.Context, runID string, f Field) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fields (run_id, path, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, path) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		runID, f.Path, string(f.Kind), string(f.Data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing field %s: %w", f.Path, err)
	}
	return nil
}

func (s *SQLiteStore) Fields(ctx context.Context, runID, path string) ([]Field, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, kind, value FROM fields
		 WHERE run_id = ? AND (path = ? OR substr(path, 1, ?) = ?)
		 ORDER BY path`,
		runID, path, utf8.RuneCountInString(path)+1, path+"/",
	)
	if err != nil {
		return nil, fmt.Errorf("reading fields under %s: %w", path, err)
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		var f Field
		var kind, value string
		if err := rows.Scan(&f.Path, &kind, &value); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		f.Kind = Kind(kind)
		f.Data = []byte(value)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendPoint(ctx context.Context, runID, path string, p Point) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series (run_id, path, step, value, ts)
		 SELECT ?, ?, COALESCE(MAX(step) + 1, 0), ?, ? FROM series WHERE run_id = ? AND path = ?`,
		runID, path, p.Value, p.Timestamp.UTC().Format(time.RFC3339Nano), runID, path,
	)
	if err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) Points(ctx context.Context, runID, path string) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, value, ts FROM series WHERE run_id = ? AND path = ? ORDER BY step`,
		runID, path,
	)
	if err != nil {
		return nil, fmt.Errorf("reading series %s: %w", path, err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		var ts string
		if err := rows.Scan(&p.Step, &p.Value, &ts); err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("series %s: %w", path, models.ErrPathNotFound)
	}
	return out, nil
}

func (s *SQLiteStore) PutFile(ctx context.Context, runID, path string, f File) error {
	data := f.Content
	if data == nil {
		data = []byte{}
	}
	compressed := false
	if enc := zstdEncoder.EncodeAll(f.Content, nil); len(enc) < len(f.Content) {
		data = enc
		compressed = true
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (run_id, path, extension, content_type, size, compressed, data) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, path) DO UPDATE SET extension = excluded.extension, content_type = excluded.content_type,
		   size = excluded.size, compressed = excluded.compressed, data = excluded.data`,
		runID, path, f.Extension, f.ContentType, len(f.Content), compressed, data,
	)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, runID, path string) (File, error) {
	var f File
	var size int
	var compressed bool
	var data []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT extension, content_type, size, compressed, data FROM files WHERE run_id = ? AND path = ?`,
		runID, path,
	).Scan(&f.Extension, &f.ContentType, &size, &compressed, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("file %s: %w", path, models.ErrPathNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("downloading %s: %w", path, err)
	}

	if compressed {
		data, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return File{}, fmt.Errorf("decompressing %s: %w", path, err)
		}
	}
	if len(data) != size {
		return File{}, fmt.Errorf("file %s: got %d bytes, expected %d", path, len(data), size)
	}
	f.Content = data
	return f, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, runID, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM fields WHERE run_id = ?1 AND (path = ?2 OR substr(path, 1, ?3) = ?4)
		   UNION ALL
		   SELECT 1 FROM series WHERE run_id = ?1 AND (path = ?2 OR substr(path, 1, ?3) = ?4)
		   UNION ALL
		   SELECT 1 FROM files WHERE run_id = ?1 AND (path = ?2 OR substr(path, 1, ?3) = ?4)
		 )`,
		runID, path, utf8.RuneCountInString(path)+1, path+"/",
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	return exists, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
