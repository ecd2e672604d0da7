package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var sourceLine = regexp.MustCompile(`Source: (\S+)`)

// MockLLM answers without a model: it echoes the first line of the question
// and cites every source that appears in the prompt context.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	var sources []string
	for _, match := range sourceLine.FindAllStringSubmatch(userPrompt, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			sources = append(sources, match[1])
		}
	}

	question := userPrompt
	if i := strings.LastIndex(userPrompt, "Question:"); i >= 0 {
		question = strings.TrimSpace(userPrompt[i+len("Question:"):])
	}
	if i := strings.IndexByte(question, '\n'); i >= 0 {
		question = question[:i]
	}

	return fmt.Sprintf("Mock answer to %q based on %d sources.\nSOURCES: %s",
		question, len(sources), strings.Join(sources, ", ")), nil
}

func (m *MockLLM) ModelName() string {
	return "mock"
}
