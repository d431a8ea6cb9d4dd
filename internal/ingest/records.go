package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
)

// rawRecord is the union of every chunk shape the chunker agents emit:
// native chunk records, table descriptions, metric definitions and Q&A pairs.
type rawRecord struct {
	// native
	ID         string         `json:"id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	ChunkText  string         `json:"chunk_text"`
	CreatedAt  string         `json:"created_at"`
	Metadata   map[string]any `json:"metadata"`

	// table description
	Text string `json:"text"`

	// metric definition
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Grain          string   `json:"grain"`
	FormulaNatural string   `json:"formula_natural"`
	FormulaSQL     string   `json:"formula_sql"`
	Tables         []string `json:"tables"`
	Columns        []string `json:"columns"`

	// Q&A pair
	Question string `json:"question"`
	Answer   string `json:"answer"`
	SQLQuery string `json:"sql_query"`
}

// ReadChunks decodes chunk records from r. The input may be a JSON array, an
// object with a "chunks" array, newline-delimited objects, or any sequence of
// those. Records without an id get a stable id derived from their content and
// records without created_at are stamped with the current time.
func ReadChunks(r io.Reader) ([]chunk.Chunk, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	dec := json.NewDecoder(r)

	var chunks []chunk.Chunk
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode value %d: %w", n, err)
		}

		records, err := unwrap(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode value %d: %w", n, err)
		}
		for _, rec := range records {
			c, err := rec.toChunk(now)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", n, err)
			}
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func unwrap(raw json.RawMessage) ([]rawRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []rawRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapper struct {
		Chunks []rawRecord `json:"chunks"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err == nil && wrapper.Chunks != nil {
		return wrapper.Chunks, nil
	}

	var rec rawRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}
	return []rawRecord{rec}, nil
}

func (r rawRecord) toChunk(now string) (chunk.Chunk, error) {
	var c chunk.Chunk
	switch {
	case r.ChunkText != "":
		c = chunk.Chunk{
			ID:         r.ID,
			SourceType: chunk.SourceType(r.SourceType),
			SourceID:   r.SourceID,
			ChunkText:  r.ChunkText,
			Metadata:   r.Metadata,
		}
	case r.Question != "":
		c = r.qnaChunk()
	case r.FormulaNatural != "" || r.FormulaSQL != "":
		c = r.metricChunk()
	case r.Text != "":
		c = r.tableChunk()
	default:
		return chunk.Chunk{}, fmt.Errorf("record %q has no text to index", r.ID)
	}

	if c.ID == "" {
		c.ID = chunk.NewID(string(c.SourceType), c.SourceID, c.ChunkText)
	}
	c.CreatedAt = r.CreatedAt
	if c.CreatedAt == "" {
		c.CreatedAt = now
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c, nil
}

func (r rawRecord) tableChunk() chunk.Chunk {
	sourceID := r.ID
	if table, ok := r.Metadata["table"].(string); ok && table != "" {
		sourceID = table
	}
	return chunk.Chunk{
		ID:         r.ID,
		SourceType: chunk.SourceDBSchema,
		SourceID:   sourceID,
		ChunkText:  r.Text,
		Metadata:   r.Metadata,
	}
}

func (r rawRecord) metricChunk() chunk.Chunk {
	var text strings.Builder
	text.WriteString(r.Name)
	if r.Description != "" {
		text.WriteString(": " + r.Description)
	}
	if r.FormulaNatural != "" {
		text.WriteString("\nFormula: " + r.FormulaNatural)
	}
	if r.FormulaSQL != "" {
		text.WriteString("\nSQL: " + r.FormulaSQL)
	}

	return chunk.Chunk{
		ID:         r.ID,
		SourceType: chunk.SourceBusinessLogic,
		SourceID:   firstNonEmpty(r.ID, r.Name),
		ChunkText:  strings.TrimSpace(text.String()),
		Metadata: map[string]any{
			"name":        r.Name,
			"category":    r.Category,
			"grain":       r.Grain,
			"formula_sql": r.FormulaSQL,
			"tables":      toAny(r.Tables),
			"columns":     toAny(r.Columns),
		},
	}
}

func (r rawRecord) qnaChunk() chunk.Chunk {
	text := "Question: " + r.Question
	if r.Answer != "" {
		text += "\nAnswer: " + r.Answer
	}
	if r.SQLQuery != "" {
		text += "\nSQL: " + r.SQLQuery
	}

	metadata := map[string]any{}
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	metadata["sql_query"] = r.SQLQuery

	sourceID, _ := r.Metadata["metric_id"].(string)
	return chunk.Chunk{
		ID:         r.ID,
		SourceType: chunk.SourceQnALogic,
		SourceID:   firstNonEmpty(sourceID, r.Question),
		ChunkText:  text,
		Metadata:   metadata,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// toAny keeps metadata in the shape a JSON round trip produces
func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
