package engine

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/search"
)

const (
	DefaultEncoding = "cl100k_base"

	// WordEncoding selects WordCounter without loading a tiktoken encoding
	WordEncoding = "words"
)

// TokenCounter counts the tokens a text costs in the LLM prompt
type TokenCounter interface {
	CountTokens(text string) int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named tiktoken encoding
func NewTokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tiktokenCounter{encoding: enc}, nil
}

func (c *tiktokenCounter) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// WordCounter approximates tokens by whitespace separated words
type WordCounter struct{}

func (WordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// AssembledContext is the retrieved text handed to the LLM
type AssembledContext struct {
	Text      string
	Sources   []search.SearchResult
	Tokens    int
	Truncated bool
}

// ContextAssembler packs ranked chunks into a prompt context under a token budget
type ContextAssembler struct {
	MaxTokens int
	Counter   TokenCounter
}

// NewContextAssembler uses the tiktoken encoding when it can be loaded and
// falls back to counting words otherwise. WordEncoding skips tiktoken.
func NewContextAssembler(maxTokens int, encoding string, logger *logrus.Entry) *ContextAssembler {
	if logger == nil {
		logger = logrus.WithField("component", "context_assembler")
	}

	var counter TokenCounter = WordCounter{}
	if encoding != WordEncoding {
		tc, err := NewTokenCounter(encoding)
		if err != nil {
			logger.WithError(err).Warn("Falling back to word based token counting")
		} else {
			counter = tc
		}
	}

	return &ContextAssembler{
		MaxTokens: maxTokens,
		Counter:   counter,
	}
}

// Assemble renders results in rank order as "[source_type:source_id] text"
// lines and stops before the line that would exceed MaxTokens.
// MaxTokens <= 0 means no limit.
func (a *ContextAssembler) Assemble(results []search.SearchResult) AssembledContext {
	counter := a.Counter
	if counter == nil {
		counter = WordCounter{}
	}

	var out AssembledContext
	lines := make([]string, 0, len(results))
	for _, r := range results {
		line := fmt.Sprintf("[%s:%s] %s", r.Chunk.SourceType, r.Chunk.SourceID, r.Chunk.ChunkText)
		n := counter.CountTokens(line)
		if a.MaxTokens > 0 && out.Tokens+n > a.MaxTokens {
			out.Truncated = true
			break
		}
		lines = append(lines, line)
		out.Sources = append(out.Sources, r)
		out.Tokens += n
	}
	out.Text = strings.Join(lines, "\n")
	return out
}
