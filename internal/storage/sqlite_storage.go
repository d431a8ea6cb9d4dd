package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS chunks (
	seq INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	chunk_text TEXT NOT NULL,
	created_at TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
)`

// SQLiteStorage keeps the snapshot in a single SQLite table ordered by seq
type SQLiteStorage struct {
	db   *sql.DB
	path string
	opts options
	mu   sync.Mutex
}

// NewSQLiteStorage opens (or creates) the database at path
func NewSQLiteStorage(path string, opts ...Option) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database tables: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: path,
		opts: newOptions("sqlite_storage", opts),
	}, nil
}

// Path is the database file location
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Save replaces every row inside one transaction
func (s *SQLiteStorage) Save(chunks []chunk.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (seq, id, source_type, source_id, chunk_text, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.Exec(i, c.ID, string(c.SourceType), c.SourceID, c.ChunkText, c.CreatedAt, string(metadataJSON)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load returns all rows in seq order
func (s *SQLiteStorage) Load() ([]chunk.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT seq, id, source_type, source_id, chunk_text, created_at, metadata FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []chunk.Chunk
	for rows.Next() {
		var (
			seq          int
			c            chunk.Chunk
			sourceType   string
			metadataJSON string
		)
		if err := rows.Scan(&seq, &c.ID, &sourceType, &c.SourceID, &c.ChunkText, &c.CreatedAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.SourceType = chunk.SourceType(sourceType)

		if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
			if err := s.opts.corrupt(seq, fmt.Errorf("metadata: %w", err)); err != nil {
				return nil, err
			}
			continue
		}
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return chunks, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

var _ ChunkStorage = (*SQLiteStorage)(nil)
