package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
)

// FileStorage keeps the snapshot as newline-delimited JSON, one chunk per line
type FileStorage struct {
	path string
	opts options
	mu   sync.RWMutex
}

// NewFileStorage creates a JSONL storage at baseDir/filename
func NewFileStorage(baseDir, filename string, opts ...Option) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{
		path: filepath.Join(baseDir, filename),
		opts: newOptions("file_storage", opts),
	}, nil
}

// Path is the location of the snapshot file
func (fs *FileStorage) Path() string {
	return fs.path
}

// Save rewrites the snapshot file. The new content is written to a temp
// file in the same directory and renamed over the old one.
func (fs *FileStorage) Save(chunks []chunk.Chunk) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".chunks-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, c := range chunks {
		data, err := encodeRecord(c)
		if err != nil {
			tmp.Close()
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	fs.opts.logger.WithField("chunks", len(chunks)).Debug("Wrote chunk snapshot")
	return nil
}

// Load reads the snapshot file. A missing file is not an error.
func (fs *FileStorage) Load() ([]chunk.Chunk, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var chunks []chunk.Chunk
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("failed to read file: %w", readErr)
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			c, err := decodeRecord(trimmed)
			if err != nil {
				if err := fs.opts.corrupt(lineNo, err); err != nil {
					return nil, err
				}
			} else {
				chunks = append(chunks, c)
			}
		}

		if readErr != nil {
			break
		}
	}

	return chunks, nil
}

// Close is a no-op for file storage
func (fs *FileStorage) Close() error {
	return nil
}

var _ ChunkStorage = (*FileStorage)(nil)
