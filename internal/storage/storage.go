package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/config"
)

const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// ErrCorruptSnapshot is returned by Load when a persisted record cannot be decoded
var ErrCorruptSnapshot = errors.New("corrupt chunk snapshot")

// ChunkStorage persists the full chunk collection as one snapshot
type ChunkStorage interface {
	// Save replaces the persisted snapshot with chunks
	Save(chunks []chunk.Chunk) error
	// Load returns the persisted chunks in save order, or nil when nothing was saved yet
	Load() ([]chunk.Chunk, error)
	Close() error
}

// Option configures a storage backend
type Option func(*options)

type options struct {
	skipCorrupt bool
	logger      *logrus.Entry
}

// WithSkipCorrupt makes Load drop undecodable records instead of failing the whole snapshot
func WithSkipCorrupt(skip bool) Option {
	return func(o *options) { o.skipCorrupt = skip }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(component string, opts []Option) options {
	o := options{logger: logrus.WithField("component", component)}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithField("component", component)
	return o
}

// corrupt applies the corrupt-record policy to a record at position pos.
// It returns nil when the record should be skipped.
func (o options) corrupt(pos int, err error) error {
	if o.skipCorrupt {
		o.logger.WithError(err).WithField("record", pos).Warn("Skipping corrupt chunk record")
		return nil
	}
	return fmt.Errorf("%w: record %d: %v", ErrCorruptSnapshot, pos, err)
}

// Open builds the backend selected by cfg.Backend
func Open(cfg config.StoreConfig, logger *logrus.Entry) (ChunkStorage, error) {
	opts := []Option{WithSkipCorrupt(cfg.SkipCorruptRecords), WithLogger(logger)}
	file := cfg.File

	var (
		backend ChunkStorage
		err     error
	)
	switch cfg.Backend {
	case "", BackendJSONL:
		if file == "" {
			file = "chunks.jsonl"
		}
		backend, err = NewFileStorage(cfg.Dir, file, opts...)
	case BackendSQLite:
		if file == "" {
			file = "chunks.db"
		}
		backend, err = NewSQLiteStorage(filepath.Join(cfg.Dir, file), opts...)
	case BackendBolt:
		if file == "" {
			file = "chunks.bolt"
		}
		backend, err = NewBoltStorage(filepath.Join(cfg.Dir, file), opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// record mirrors chunk.Chunk with pointer fields so missing keys can be told apart from empty values
type record struct {
	ID         *string        `json:"id"`
	SourceType *string        `json:"source_type"`
	SourceID   *string        `json:"source_id"`
	ChunkText  *string        `json:"chunk_text"`
	CreatedAt  *string        `json:"created_at"`
	Metadata   map[string]any `json:"metadata"`
}

func encodeRecord(c chunk.Chunk) ([]byte, error) {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk %s: %w", c.ID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (chunk.Chunk, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return chunk.Chunk{}, err
	}

	required := []struct {
		name  string
		value *string
	}{
		{"id", rec.ID},
		{"source_type", rec.SourceType},
		{"source_id", rec.SourceID},
		{"chunk_text", rec.ChunkText},
		{"created_at", rec.CreatedAt},
	}
	for _, field := range required {
		if field.value == nil {
			return chunk.Chunk{}, fmt.Errorf("missing field %q", field.name)
		}
	}

	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return chunk.Chunk{
		ID:         *rec.ID,
		SourceType: chunk.SourceType(*rec.SourceType),
		SourceID:   *rec.SourceID,
		ChunkText:  *rec.ChunkText,
		CreatedAt:  *rec.CreatedAt,
		Metadata:   metadata,
	}, nil
}
