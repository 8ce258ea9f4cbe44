package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// SQLiteMetadataStore tracks indexed files and chunk records in SQLite.
// The CGO-free driver keeps the module portable. WAL mode allows a reader
// to poll while an indexing run writes.
type SQLiteMetadataStore struct {
	db *sql.DB
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS files (
	file_id      TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	indexed_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	file_id     TEXT NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	symbol      TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	inserted_at TIMESTAMP NOT NULL,
	UNIQUE(file_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);
`

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// Use ":memory:" for an in-memory store in tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ragerr.StorageError("open metadata database", err)
	}

	// Single writer; modernc.org/sqlite serializes anyway, and a bounded
	// pool avoids SQLITE_BUSY churn under concurrent readers. An in-memory
	// database exists per connection, so it must stay on one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ragerr.StorageError("apply pragma", err)
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, ragerr.StorageError("create metadata schema", err)
	}

	return &SQLiteMetadataStore{db: db}, nil
}

const upsertFileSQL = `
	INSERT INTO files (file_id, path, language, content_hash, chunk_count, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(file_id) DO UPDATE SET
		path = excluded.path,
		language = excluded.language,
		content_hash = excluded.content_hash,
		chunk_count = excluded.chunk_count,
		indexed_at = excluded.indexed_at`

// SaveFile upserts a file record.
func (s *SQLiteMetadataStore) SaveFile(ctx context.Context, file *File) error {
	_, err := s.db.ExecContext(ctx, upsertFileSQL,
		file.FileID, file.Path, file.Language, file.ContentHash, file.ChunkCount, file.IndexedAt)
	if err != nil {
		return ragerr.StorageError("save file record", err)
	}
	return nil
}

// SaveFileWithChunks upserts the file record and inserts its chunk rows in
// one transaction, file first so the chunk foreign key always resolves. A
// failure commits neither.
func (s *SQLiteMetadataStore) SaveFileWithChunks(ctx context.Context, file *File, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.StorageError("begin file transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertFileSQL,
		file.FileID, file.Path, file.Language, file.ContentHash, file.ChunkCount, file.IndexedAt); err != nil {
		return ragerr.StorageError("save file record", err)
	}
	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ragerr.StorageError("commit file transaction", err)
	}
	return nil
}

// GetFile returns a file record, or nil when the file is unknown.
func (s *SQLiteMetadataStore) GetFile(ctx context.Context, fileID string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_id, path, language, content_hash, chunk_count, indexed_at
		FROM files WHERE file_id = ?`, fileID)

	var f File
	err := row.Scan(&f.FileID, &f.Path, &f.Language, &f.ContentHash, &f.ChunkCount, &f.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.StorageError("load file record", err)
	}
	return &f, nil
}

// SaveChunks inserts chunk records inside one transaction: either every row
// commits or none do, so a concurrent reader never sees a partial chunk set.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.StorageError("begin chunk transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ragerr.StorageError("commit chunk transaction", err)
	}
	return nil
}

// insertChunks upserts chunk rows inside the caller's transaction.
func insertChunks(ctx context.Context, tx *sql.Tx, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, file_id, chunk_index, content, token_count, symbol, metadata, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			content = excluded.content,
			token_count = excluded.token_count,
			symbol = excluded.symbol,
			metadata = excluded.metadata,
			inserted_at = excluded.inserted_at`)
	if err != nil {
		return ragerr.StorageError("prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		insertedAt := chunk.InsertedAt
		if insertedAt.IsZero() {
			insertedAt = now
		}
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return ragerr.InternalError("marshal chunk metadata", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.FileID, chunk.ChunkIndex,
			chunk.Content, chunk.TokenCount, chunk.Symbol, string(meta), insertedAt); err != nil {
			return ragerr.StorageError("insert chunk "+chunk.ID, err)
		}
	}
	return nil
}

// ChunksForFile returns a file's chunks ordered by chunk index.
func (s *SQLiteMetadataStore) ChunksForFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, file_id, chunk_index, content, token_count, symbol, metadata, inserted_at
		FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, ragerr.StorageError("load file chunks", err)
	}
	defer func() { _ = rows.Close() }()

	return scanChunks(rows)
}

// GetChunks resolves chunk records by ID, preserving input order.
func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	byID := make(map[string]*Chunk, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx, `
			SELECT chunk_id, file_id, chunk_index, content, token_count, symbol, metadata, inserted_at
			FROM chunks WHERE chunk_id = ?`, id)
		chunk, err := scanChunk(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, ragerr.StorageError("load chunk "+id, err)
		}
		byID[id] = chunk
	}

	results := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			results = append(results, chunk)
		}
	}
	return results, nil
}

// DeleteFile removes a file record and its full chunk set, returning the
// removed chunk IDs so the caller can purge the vector and keyword indexes.
func (s *SQLiteMetadataStore) DeleteFile(ctx context.Context, fileID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ragerr.StorageError("begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, ragerr.StorageError("list file chunks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, ragerr.StorageError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, ragerr.StorageError("iterate chunk ids", err)
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return nil, ragerr.StorageError("delete file chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID); err != nil {
		return nil, ragerr.StorageError("delete file record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ragerr.StorageError("commit delete transaction", err)
	}
	return ids, nil
}

// Stats returns file and chunk counts.
func (s *SQLiteMetadataStore) Stats(ctx context.Context) (int, int, error) {
	var files, chunks int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&files); err != nil {
		return 0, 0, ragerr.StorageError("count files", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, ragerr.StorageError("count chunks", err)
	}
	return files, chunks, nil
}

// Close closes the database.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var meta string
	err := row.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content, &c.TokenCount,
		&c.Symbol, &meta, &c.InsertedAt)
	if err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, ragerr.StorageError("scan chunk row", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.StorageError("iterate chunk rows", err)
	}
	return chunks, nil
}
