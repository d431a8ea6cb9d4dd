package chunk

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType tags the kind of artifact a chunk was cut from
type SourceType string

const (
	SourceDBSchema      SourceType = "db_schema"
	SourceBusinessLogic SourceType = "business_logic"
	SourceQnALogic      SourceType = "qna_logic"
)

// zone-less ISO-8601 timestamps written by older ingestion scripts
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

var (
	ErrMissingID   = errors.New("chunk id is required")
	ErrMissingText = errors.New("chunk text is required")
)

// idNamespace scopes the name-based ids produced by NewID
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunkstore://chunks"))

// Chunk is one retrievable unit of knowledge: a schema description,
// a business-logic definition or a Q&A example.
type Chunk struct {
	ID         string         `json:"id"`
	SourceType SourceType     `json:"source_type"`
	SourceID   string         `json:"source_id"`
	ChunkText  string         `json:"chunk_text"`
	CreatedAt  string         `json:"created_at"`
	Metadata   map[string]any `json:"metadata"`
}

// New builds a chunk stamped with the current UTC time.
// A nil metadata map is replaced with an empty one.
func New(id string, sourceType SourceType, sourceID, text string, metadata map[string]any) Chunk {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Chunk{
		ID:         id,
		SourceType: sourceType,
		SourceID:   sourceID,
		ChunkText:  text,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:   metadata,
	}
}

// NewID derives a stable id from the given parts, so re-ingesting the same
// artifact yields the same chunk ids.
func NewID(parts ...string) string {
	var name []byte
	for i, p := range parts {
		if i > 0 {
			name = append(name, '/')
		}
		name = append(name, p...)
	}
	return uuid.NewSHA1(idNamespace, name).String()
}

// Validate reports whether the chunk can be indexed
func (c Chunk) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	if c.ChunkText == "" {
		return fmt.Errorf("chunk %s: %w", c.ID, ErrMissingText)
	}
	return nil
}

// CreatedTime parses CreatedAt
func (c Chunk) CreatedTime() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, c.CreatedAt); err == nil {
		return t, nil
	}
	t, err := time.Parse(legacyTimeLayout, c.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse created_at %q: %w", c.CreatedAt, err)
	}
	return t, nil
}
