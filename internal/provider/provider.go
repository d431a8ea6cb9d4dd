package provider

import (
	"context"
	"fmt"
	"time"
)

// LLMProvider defines the interface for AI model integration
type LLMProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// New builds the provider named by name. An empty name selects ollama.
func New(name, baseURL, model, apiKey string, timeout time.Duration) (LLMProvider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(baseURL, model, apiKey), nil
	case "ollama", "":
		return NewOllamaProvider(baseURL, model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// BuildPrompt wraps the retrieved schema, business logic and example
// queries around the user question for SQL generation.
func BuildPrompt(question, context string) string {
	if context == "" {
		context = "No specific context available."
	}

	return "You are a senior data analyst. Use the provided context (table schemas, business " +
		"definitions and example queries) to answer the user question.\n" +
		"If the question needs data, write a single SQL query and explain it briefly.\n" +
		"If the context is insufficient, state that clearly but provide the best possible response.\n\n" +
		"CONTEXT:\n" + context + "\n\n" +
		"USER QUESTION:\n" + question + "\n\n" +
		"RESPONSE:\n"
}
