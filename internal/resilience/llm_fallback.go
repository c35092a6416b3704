package resilience

import (
	"context"

	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/types"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Chat opens a streaming chat completion against the first healthy provider.
// Only the initial call is covered by failover; once a stream is returned,
// mid-stream errors are the caller's responsibility.
func (f *LLMFallback) Chat(ctx context.Context, messages []types.Message, tools []llm.ToolDefinition) (<-chan types.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan types.Chunk, error) {
		return p.Chat(ctx, messages, tools)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
