// Package session provides session lifecycle management for felix voice
// assistant connections.
//
// It includes context window management ([ContextManager]), conversation
// summarisation ([Summariser], [LLMSummariser]), periodic memory consolidation
// ([Consolidator]), and graceful memory degradation ([MemoryGuard]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/types"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// conversation segments.
const summarisationPrompt = `Summarise the following conversation between a voice assistant and its user.
Preserve: facts the user shared, requests or commands given, decisions made, and any
follow-up actions the assistant committed to. Be concise but keep every detail that
later turns might need to refer back to.`

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise takes a slice of messages and returns a condensed summary string.
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise sends messages to the LLM with a summarisation prompt and returns
// the summary text. It formats the conversation history into a single user
// message and asks the model to produce a concise summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	// Format messages into a readable transcript for the summariser.
	var sb strings.Builder
	for _, m := range messages {
		speaker := string(m.Role)
		if m.ToolName != "" {
			speaker = m.ToolName
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Text)
	}

	req := []types.Message{
		{Role: types.RoleSystem, Text: summarisationPrompt},
		{Role: types.RoleUser, Text: sb.String()},
	}

	chunks, err := s.llm.Chat(ctx, req, nil)
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	var summary strings.Builder
	for chunk := range chunks {
		switch chunk.Kind {
		case types.ChunkText:
			summary.WriteString(chunk.Text)
		case types.ChunkError:
			return "", fmt.Errorf("summarise: %w", chunk.Err)
		}
	}

	return summary.String(), nil
}
