package search

import (
	"math"
)

// Vectorizer turns text into a vector
type Vectorizer interface {
	Fit(docs []string)
	Transform(text string) []float64
	Dimension() int
}

// TermFrequencyVectorizer embeds text as an L2-normalised raw term-frequency
// vector over a vocabulary learned from the corpus.
type TermFrequencyVectorizer struct {
	Vocabulary map[string]int
}

func NewTermFrequencyVectorizer() *TermFrequencyVectorizer {
	return &TermFrequencyVectorizer{
		Vocabulary: make(map[string]int),
	}
}

// BuildVocabulary assigns every distinct token an index in first-seen order
// across docs. The same docs in the same order always give the same mapping.
func BuildVocabulary(docs []string) map[string]int {
	vocab := make(map[string]int)
	for _, doc := range docs {
		for _, token := range Tokenize(doc) {
			if _, exists := vocab[token]; !exists {
				vocab[token] = len(vocab)
			}
		}
	}
	return vocab
}

// Fit replaces the vocabulary with one built from docs
func (v *TermFrequencyVectorizer) Fit(docs []string) {
	v.Vocabulary = BuildVocabulary(docs)
}

// Dimension is the length of every vector Transform returns
func (v *TermFrequencyVectorizer) Dimension() int {
	return len(v.Vocabulary)
}

// Transform converts text to a unit vector over the learned vocabulary.
// Unknown tokens are ignored; text with no known token yields the zero vector.
func (v *TermFrequencyVectorizer) Transform(text string) []float64 {
	vector := make([]float64, len(v.Vocabulary))
	if len(vector) == 0 {
		return vector
	}

	for _, token := range Tokenize(text) {
		if idx, exists := v.Vocabulary[token]; exists {
			vector[idx]++
		}
	}

	if norm := Norm(vector); norm > 0 {
		for i := range vector {
			vector[i] /= norm
		}
	}
	return vector
}

// Tokens returns the vocabulary in index order
func (v *TermFrequencyVectorizer) Tokens() []string {
	tokens := make([]string, len(v.Vocabulary))
	for token, idx := range v.Vocabulary {
		tokens[idx] = token
	}
	return tokens
}

// Norm is the Euclidean length of v
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every coordinate of v is zero
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
