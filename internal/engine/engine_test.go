package engine_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/engine"
	"github.com/knowledge-engine/chunkstore/internal/provider"
	"github.com/knowledge-engine/chunkstore/internal/search"
)

// Mocks

type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockLLMProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "engine")
}

func fixtureChunks() []chunk.Chunk {
	return []chunk.Chunk{
		chunk.New("c1", chunk.SourceDBSchema, "orders", "orders table holds one row per customer order with total amount", nil),
		chunk.New("c2", chunk.SourceBusinessLogic, "net_revenue", "net revenue is total amount minus refunds", nil),
		chunk.New("c3", chunk.SourceQnALogic, "weather", "weather forecast", nil),
	}
}

func newEngine(t *testing.T, llm *MockLLMProvider, maxTokens int) *engine.Engine {
	t.Helper()
	store, err := search.NewVectorStore(nil, testLogger())
	require.NoError(t, err)

	var llmProvider provider.LLMProvider
	if llm != nil {
		llmProvider = llm
	}

	assembler := &engine.ContextAssembler{MaxTokens: maxTokens, Counter: engine.WordCounter{}}
	eng := engine.NewEngine(store, llmProvider, assembler, testLogger(), 3)
	require.NoError(t, eng.Ingest(context.Background(), fixtureChunks()))
	return eng
}

func TestEngine_Ingest(t *testing.T) {
	eng := newEngine(t, nil, 0)

	assert.Equal(t, 3, eng.Store.Len())
	assert.Equal(t, int64(3), eng.Status().Ingested)

	// duplicates are refused and not counted
	err := eng.Ingest(context.Background(), fixtureChunks()[:1])
	assert.ErrorIs(t, err, search.ErrDuplicateID)
	assert.Equal(t, int64(3), eng.Status().Ingested)
}

func TestEngine_Ingest_CancelledContext(t *testing.T) {
	eng := newEngine(t, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Ingest(ctx, []chunk.Chunk{chunk.New("c4", chunk.SourceDBSchema, "x", "late chunk", nil)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, eng.Store.Len())
}

func TestEngine_Retrieve(t *testing.T) {
	eng := newEngine(t, nil, 0)

	hits := eng.Retrieve("total amount of orders", search.SearchOptions{TopK: 5})
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, "c2", hits[1].Chunk.ID)

	hits = eng.Retrieve("total amount of orders", search.SearchOptions{
		SourceTypes: []chunk.SourceType{chunk.SourceBusinessLogic},
	})
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].Chunk.ID)
	assert.Equal(t, int64(2), eng.Status().Searches)
}

func TestEngine_GenerateAnswer(t *testing.T) {
	llm := new(MockLLMProvider)
	eng := newEngine(t, llm, 0)

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "[db_schema:orders] orders table holds one row") &&
			strings.Contains(prompt, "[business_logic:net_revenue] net revenue is total amount minus refunds") &&
			!strings.Contains(prompt, "weather") &&
			strings.Contains(prompt, "total amount of orders")
	})).Return("SELECT SUM(total_amount) FROM orders", nil)
	llm.On("Name").Return("mock")

	answer, err := eng.GenerateAnswer(context.Background(), "total amount of orders")
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(total_amount) FROM orders", answer.Text)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "c1", answer.Sources[0].Chunk.ID)
	assert.False(t, answer.Truncated)

	status := eng.Status()
	assert.Equal(t, int64(1), status.Generations)
	assert.Equal(t, "mock", status.Provider)
	llm.AssertExpectations(t)
}

func TestEngine_GenerateAnswer_TokenBudget(t *testing.T) {
	llm := new(MockLLMProvider)
	eng := newEngine(t, llm, 15)

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "[db_schema:orders]") && !strings.Contains(prompt, "net_revenue")
	})).Return("answer", nil)

	answer, err := eng.GenerateAnswer(context.Background(), "total amount of orders")
	require.NoError(t, err)
	assert.True(t, answer.Truncated)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "c1", answer.Sources[0].Chunk.ID)
	llm.AssertExpectations(t)
}

func TestEngine_GenerateAnswer_ProviderError(t *testing.T) {
	llm := new(MockLLMProvider)
	eng := newEngine(t, llm, 0)

	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))
	llm.On("Name").Return("mock")

	_, err := eng.GenerateAnswer(context.Background(), "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int64(0), eng.Status().Generations)
}

func TestEngine_GenerateAnswer_NoProvider(t *testing.T) {
	eng := newEngine(t, nil, 0)

	_, err := eng.GenerateAnswer(context.Background(), "orders")
	assert.ErrorIs(t, err, engine.ErrNoProvider)
}

func TestContextAssembler(t *testing.T) {
	results := []search.SearchResult{
		{Chunk: chunk.New("a", chunk.SourceDBSchema, "orders", "one two three", nil), Score: 0.9},
		{Chunk: chunk.New("b", chunk.SourceQnALogic, "q1", "four five", nil), Score: 0.5},
	}

	t.Run("no limit", func(t *testing.T) {
		a := &engine.ContextAssembler{Counter: engine.WordCounter{}}
		out := a.Assemble(results)
		assert.Equal(t, "[db_schema:orders] one two three\n[qna_logic:q1] four five", out.Text)
		assert.Equal(t, 7, out.Tokens)
		assert.False(t, out.Truncated)
		assert.Len(t, out.Sources, 2)
	})

	t.Run("budget stops before overflow", func(t *testing.T) {
		a := &engine.ContextAssembler{MaxTokens: 5, Counter: engine.WordCounter{}}
		out := a.Assemble(results)
		assert.Equal(t, "[db_schema:orders] one two three", out.Text)
		assert.Equal(t, 4, out.Tokens)
		assert.True(t, out.Truncated)
	})

	t.Run("first chunk over budget", func(t *testing.T) {
		a := &engine.ContextAssembler{MaxTokens: 2, Counter: engine.WordCounter{}}
		out := a.Assemble(results)
		assert.Empty(t, out.Text)
		assert.Empty(t, out.Sources)
		assert.True(t, out.Truncated)
	})

	t.Run("empty results", func(t *testing.T) {
		a := &engine.ContextAssembler{MaxTokens: 10}
		out := a.Assemble(nil)
		assert.Empty(t, out.Text)
		assert.False(t, out.Truncated)
	})
}

func TestNewContextAssembler_WordEncoding(t *testing.T) {
	a := engine.NewContextAssembler(100, engine.WordEncoding, testLogger())
	assert.Equal(t, 100, a.MaxTokens)
	assert.Equal(t, engine.WordCounter{}, a.Counter)
}
