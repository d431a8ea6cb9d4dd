package search_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knowledge-engine/chunkstore/internal/search"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{"Punctuation", "Hello, World! This is a test.", []string{"hello", "world", "this", "is", "a", "test"}},
		{"Apostrophes kept", "Customer's lifetime value", []string{"customer's", "lifetime", "value"}},
		{"Digits", "Top 10 SKUs in Q4-2023", []string{"top", "10", "skus", "in", "q4", "2023"}},
		{"Snake case splits", "order_items.unit_price", []string{"order", "items", "unit", "price"}},
		{"Non-ASCII separates", "café über naïve", []string{"caf", "ber", "na", "ve"}},
		{"Empty", "", nil},
		{"Only separators", "  -- !! ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := search.Tokenize(tt.text)
			assert.Len(t, tokens, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, tt.expected[i], tokens[i])
			}
		})
	}
}

func TestBuildVocabulary_FirstSeenOrder(t *testing.T) {
	docs := []string{
		"zebra apple",
		"apple mango zebra",
	}

	vocab := search.BuildVocabulary(docs)

	assert.Equal(t, map[string]int{"zebra": 0, "apple": 1, "mango": 2}, vocab)
	assert.Equal(t, vocab, search.BuildVocabulary(docs))
}

func TestTermFrequencyVectorizer(t *testing.T) {
	vectorizer := search.NewTermFrequencyVectorizer()
	vectorizer.Fit([]string{
		"apple banana",
		"apple orange",
	})

	assert.Equal(t, 3, vectorizer.Dimension())
	assert.Equal(t, []string{"apple", "banana", "orange"}, vectorizer.Tokens())

	// apple twice, banana once: (2, 1, 0) / sqrt(5)
	vec := vectorizer.Transform("apple Apple banana kiwi")
	assert.Len(t, vec, 3)
	assert.InDelta(t, 2/math.Sqrt(5), vec[0], 1e-9)
	assert.InDelta(t, 1/math.Sqrt(5), vec[1], 1e-9)
	assert.Equal(t, 0.0, vec[2])
	assert.InDelta(t, 1.0, search.Norm(vec), 1e-9)
}

func TestTermFrequencyVectorizer_ZeroVector(t *testing.T) {
	vectorizer := search.NewTermFrequencyVectorizer()
	assert.Empty(t, vectorizer.Transform("anything"))

	vectorizer.Fit([]string{"apple banana"})
	vec := vectorizer.Transform("quantum teleportation")
	assert.Len(t, vec, 2)
	assert.True(t, search.IsZero(vec))
}

func TestFitReplacesVocabulary(t *testing.T) {
	vectorizer := search.NewTermFrequencyVectorizer()
	vectorizer.Fit([]string{"apple banana"})
	vectorizer.Fit([]string{"cherry"})

	assert.Equal(t, map[string]int{"cherry": 0}, vectorizer.Vocabulary)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Half overlap", []float64{1, 0, 1}, []float64{0, 1, 1}, 0.5},
		{"Identical", []float64{3, 4}, []float64{3, 4}, 1},
		{"Orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"Zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"Length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"Empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, search.CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
