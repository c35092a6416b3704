package session

import (
	"context"
	"errors"
	"testing"

	llmmock "github.com/wspotter/felix/pkg/provider/llm/mock"
	"github.com/wspotter/felix/pkg/types"
)

func textChunks(text string) []types.Chunk {
	return []types.Chunk{
		{Kind: types.ChunkText, Text: text},
		{Kind: types.ChunkFinish},
	}
}

func TestLLMSummariser_Summarise(t *testing.T) {
	t.Run("empty messages returns empty string", func(t *testing.T) {
		p := &llmmock.Provider{}
		s := NewLLMSummariser(p)

		result, err := s.Summarise(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
		if len(p.ChatCalls) != 0 {
			t.Errorf("expected no LLM calls for empty input, got %d", len(p.ChatCalls))
		}
	})

	t.Run("summarises messages via LLM", func(t *testing.T) {
		p := &llmmock.Provider{
			Chunks: textChunks("The user asked for the weekly schedule and the assistant confirmed it."),
		}
		s := NewLLMSummariser(p)

		msgs := []types.Message{
			{Role: types.RoleUser, Text: "What's on my schedule this week?"},
			{Role: types.RoleAssistant, Text: "You have three meetings and one reminder."},
		}

		result, err := s.Summarise(context.Background(), msgs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "The user asked for the weekly schedule and the assistant confirmed it." {
			t.Errorf("unexpected result: %q", result)
		}

		if len(p.ChatCalls) != 1 {
			t.Fatalf("expected 1 Chat call, got %d", len(p.ChatCalls))
		}

		call := p.ChatCalls[0]
		if len(call.Messages) != 2 {
			t.Fatalf("expected 2 messages in request, got %d", len(call.Messages))
		}
		if call.Messages[0].Text != summarisationPrompt {
			t.Errorf("expected summarisation prompt, got %q", call.Messages[0].Text)
		}
		if call.Messages[1].Role != types.RoleUser {
			t.Errorf("expected user role, got %q", call.Messages[1].Role)
		}
	})

	t.Run("formats speaker labels using tool name when present", func(t *testing.T) {
		p := &llmmock.Provider{
			Chunks: textChunks("summary"),
		}
		s := NewLLMSummariser(p)

		msgs := []types.Message{
			{Role: types.RoleAssistant, ToolName: "check_weather", Text: "It's sunny today."},
		}

		_, err := s.Summarise(context.Background(), msgs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		call := p.ChatCalls[0]
		content := call.Messages[1].Text
		if !contains(content, "[check_weather]") {
			t.Errorf("expected tool name label in content, got %q", content)
		}
	})

	t.Run("propagates LLM errors", func(t *testing.T) {
		p := &llmmock.Provider{
			ChatErr: errors.New("model overloaded"),
		}
		s := NewLLMSummariser(p)

		msgs := []types.Message{
			{Role: types.RoleUser, Text: "Hello"},
		}

		_, err := s.Summarise(context.Background(), msgs)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !contains(err.Error(), "model overloaded") {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})
}

// contains is a test helper that checks substring presence.
func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
