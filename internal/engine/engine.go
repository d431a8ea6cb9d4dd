package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/provider"
	"github.com/knowledge-engine/chunkstore/internal/search"
)

var ErrNoProvider = errors.New("no llm provider configured")

// Engine ties retrieval to context assembly and answer generation
type Engine struct {
	Store     *search.VectorStore
	LLM       provider.LLMProvider
	Assembler *ContextAssembler
	Logger    *logrus.Entry

	// TopK is the number of chunks retrieved for an answer
	TopK int

	startTime   time.Time
	ingested    atomic.Int64
	searches    atomic.Int64
	generations atomic.Int64
}

// Status reports the store contents and engine counters
type Status struct {
	Store       search.Stats  `json:"store"`
	Provider    string        `json:"provider"`
	Ingested    int64         `json:"ingested"`
	Searches    int64         `json:"searches"`
	Generations int64         `json:"generations"`
	Uptime      time.Duration `json:"uptime"`
}

// Answer is a generated response with the context it was grounded on
type Answer struct {
	Text      string
	Context   string
	Sources   []search.SearchResult
	Truncated bool
}

func NewEngine(store *search.VectorStore, llm provider.LLMProvider, assembler *ContextAssembler, logger *logrus.Entry, topK int) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if assembler == nil {
		assembler = &ContextAssembler{Counter: WordCounter{}}
	}
	return &Engine{
		Store:     store,
		LLM:       llm,
		Assembler: assembler,
		Logger:    logger.WithField("component", "engine"),
		TopK:      topK,
		startTime: time.Now(),
	}
}

// Ingest adds chunks to the store
func (e *Engine) Ingest(ctx context.Context, chunks []chunk.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Store.AddChunks(chunks); err != nil {
		e.Logger.WithError(err).WithField("chunks", len(chunks)).Error("Failed to ingest chunks")
		return err
	}
	e.ingested.Add(int64(len(chunks)))
	if len(chunks) > 0 {
		e.Logger.WithField("chunks", len(chunks)).Info("Ingested chunks")
	}
	return nil
}

// Retrieve runs a similarity search against the store
func (e *Engine) Retrieve(query string, opts search.SearchOptions) []search.SearchResult {
	e.searches.Add(1)
	return e.Store.SearchWithOptions(query, opts)
}

// GenerateAnswer performs the full RAG flow: Search -> Assemble Context -> Build Prompt -> LLM Generation
func (e *Engine) GenerateAnswer(ctx context.Context, question string) (*Answer, error) {
	if e.LLM == nil {
		return nil, ErrNoProvider
	}

	// 1. Retrieve
	hits := e.Retrieve(question, search.SearchOptions{TopK: e.TopK})

	// 2. Assemble context under the token budget
	assembled := e.Assembler.Assemble(hits)
	if assembled.Truncated {
		e.Logger.WithFields(logrus.Fields{
			"retrieved": len(hits),
			"kept":      len(assembled.Sources),
			"tokens":    assembled.Tokens,
		}).Debug("Context truncated to token budget")
	}

	// 3. Call LLM
	prompt := provider.BuildPrompt(question, assembled.Text)
	text, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", e.LLM.Name(), err)
	}
	e.generations.Add(1)

	return &Answer{
		Text:      text,
		Context:   assembled.Text,
		Sources:   assembled.Sources,
		Truncated: assembled.Truncated,
	}, nil
}

func (e *Engine) Status() Status {
	status := Status{
		Store:       e.Store.Stats(),
		Ingested:    e.ingested.Load(),
		Searches:    e.searches.Load(),
		Generations: e.generations.Load(),
		Uptime:      time.Since(e.startTime),
	}
	if e.LLM != nil {
		status.Provider = e.LLM.Name()
	}
	return status
}
