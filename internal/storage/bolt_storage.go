package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
)

var bucketChunks = []byte("chunks")

// BoltStorage keeps the snapshot in a bbolt bucket keyed by big-endian position
type BoltStorage struct {
	db   *bbolt.DB
	opts options
}

// NewBoltStorage opens (or creates) the bolt file at path
func NewBoltStorage(path string, opts ...Option) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	return &BoltStorage{
		db:   db,
		opts: newOptions("bolt_storage", opts),
	}, nil
}

// Save drops and recreates the bucket in one transaction
func (s *BoltStorage) Save(chunks []chunk.Chunk) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketChunks); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		for i, c := range chunks {
			data, err := encodeRecord(c)
			if err != nil {
				return err
			}
			if err := b.Put(positionKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	return nil
}

// Load walks the bucket in key order
func (s *BoltStorage) Load() ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			c, err := decodeRecord(v)
			if err != nil {
				return s.opts.corrupt(int(binary.BigEndian.Uint64(k)), err)
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func positionKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

var _ ChunkStorage = (*BoltStorage)(nil)
