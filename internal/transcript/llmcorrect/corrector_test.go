package llmcorrect_test

import (
	"context"
	"strings"
	"testing"

	"github.com/wspotter/felix/internal/transcript/llmcorrect"
	"github.com/wspotter/felix/pkg/provider/llm/mock"
	"github.com/wspotter/felix/pkg/types"
)

// textChunks builds a single-chunk Chat response carrying text, terminated
// by a finish chunk.
func textChunks(text string) []types.Chunk {
	return []types.Chunk{
		{Kind: types.ChunkText, Text: text},
		{Kind: types.ChunkFinish},
	}
}

func TestCorrector_CallsLLMWithEntityNames(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Chunks: textChunks(`{"corrected_text": "Call Bridget about the meeting.", "corrections": []}`),
	}
	c := llmcorrect.New(provider)

	entities := []string{"Bridget", "Acme Quarterly Sync"}
	_, _, err := c.Correct(context.Background(), "Call Bridgette about the meeting.", entities, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.ChatCalls) != 1 {
		t.Fatalf("expected 1 Chat call, got %d", len(provider.ChatCalls))
	}

	msgs := provider.ChatCalls[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (system + user), got %d", len(msgs))
	}
	// System prompt must contain each entity name.
	for _, entity := range entities {
		if !strings.Contains(msgs[0].Text, entity) {
			t.Errorf("system prompt missing entity %q\nprompt:\n%s", entity, msgs[0].Text)
		}
	}
	// User message must contain the original transcript text.
	if !strings.Contains(msgs[1].Text, "Bridgette") {
		t.Errorf("user message missing original text, got: %s", msgs[1].Text)
	}
}

func TestCorrector_ParsesJSONCorrections(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Chunks: textChunks(`{"corrected_text": "Bridget is free after the sprint review.", "corrections": [{"original": "Bridgette", "corrected": "Bridget", "confidence": 0.9}]}`),
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.Correct(
		context.Background(),
		"Bridgette is free after the sprint review.",
		[]string{"Bridget", "Sprint Review"},
		[]string{"Bridgette"},
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if correctedText != "Bridget is free after the sprint review." {
		t.Errorf("correctedText=%q, want %q", correctedText, "Bridget is free after the sprint review.")
	}

	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "Bridgette" {
		t.Errorf("corrections[0].Original=%q, want %q", corrections[0].Original, "Bridgette")
	}
	if corrections[0].Corrected != "Bridget" {
		t.Errorf("corrections[0].Corrected=%q, want %q", corrections[0].Corrected, "Bridget")
	}
	if corrections[0].Confidence != 0.9 {
		t.Errorf("corrections[0].Confidence=%f, want 0.9", corrections[0].Confidence)
	}
}

func TestCorrector_FallbackOnUnparseable(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		// Intentionally invalid JSON.
		Chunks: textChunks("I cannot correct this transcript because it's ambiguous."),
	}
	c := llmcorrect.New(provider)

	originalText := "call bridgette about the sprint review."
	correctedText, corrections, err := c.Correct(
		context.Background(),
		originalText,
		[]string{"Bridget", "Sprint Review"},
		nil,
	)
	if err != nil {
		t.Fatalf("Correct returned error on unparseable response: %v", err)
	}

	// Must return original text unchanged.
	if correctedText != originalText {
		t.Errorf("correctedText=%q, want original %q", correctedText, originalText)
	}
	if corrections != nil {
		t.Errorf("corrections=%v, want nil on fallback", corrections)
	}
}

func TestCorrector_MarkdownStripping(t *testing.T) {
	t.Parallel()

	// Some models wrap JSON in markdown fences.
	provider := &mock.Provider{
		Chunks: textChunks("```json\n" + `{"corrected_text": "Bridget is on her way.", "corrections": []}` + "\n```"),
	}
	c := llmcorrect.New(provider)

	correctedText, _, err := c.Correct(
		context.Background(),
		"Bridgette is on her way.",
		[]string{"Bridget"},
		nil,
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != "Bridget is on her way." {
		t.Errorf("correctedText=%q, want %q", correctedText, "Bridget is on her way.")
	}
}

func TestCorrector_EmptyEntities(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	c := llmcorrect.New(provider)

	text := "some text"
	correctedText, corrections, err := c.Correct(context.Background(), text, nil, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != text {
		t.Errorf("correctedText=%q, want original %q when no entities", correctedText, text)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections when entities is nil, got %d", len(corrections))
	}
	// LLM should not be called.
	if len(provider.ChatCalls) != 0 {
		t.Errorf("expected 0 LLM calls for empty entities, got %d", len(provider.ChatCalls))
	}
}

func TestCorrector_LLMError(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		ChatErr: context.DeadlineExceeded,
	}
	c := llmcorrect.New(provider)

	_, _, err := c.Correct(
		context.Background(),
		"some transcript",
		[]string{"Bridget"},
		nil,
	)
	if err == nil {
		t.Fatal("expected error from LLM failure, got nil")
	}
}

func TestCorrector_WithTemperature(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Chunks: textChunks(`{"corrected_text": "hello", "corrections": []}`),
	}
	c := llmcorrect.New(provider, llmcorrect.WithTemperature(0.5))

	_, _, err := c.Correct(context.Background(), "hello", []string{"Bridget"}, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if len(provider.ChatCalls) == 0 {
		t.Fatal("no Chat calls recorded")
	}
}

func TestCorrector_LowConfidenceSpansInUserMessage(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Chunks: textChunks(`{"corrected_text": "Bridget speaks.", "corrections": []}`),
	}
	c := llmcorrect.New(provider)

	spans := []string{"bridge", "it"}
	_, _, err := c.Correct(
		context.Background(),
		"bridge it speaks.",
		[]string{"Bridget"},
		spans,
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.ChatCalls) == 0 {
		t.Fatal("no Chat calls recorded")
	}
	userMsg := provider.ChatCalls[0].Messages[1].Text
	for _, span := range spans {
		if !strings.Contains(userMsg, span) {
			t.Errorf("user message missing low-confidence span %q; got:\n%s", span, userMsg)
		}
	}
}
