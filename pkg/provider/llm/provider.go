// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (Ollama, an
// OpenAI-compatible server, or a direct vendor SDK) and exposes a single
// streaming chat contract, normalizing whatever wire dialect the backend
// speaks into the three Chunk variants the orchestrator understands: text
// deltas, tool calls, and a terminating finish or error.
//
// Implementors must be safe for concurrent use. The channel returned by
// Chat must be closed by the implementation when the stream ends, whether
// that is a finish chunk, an error chunk, or context cancellation.
package llm

import (
	"context"

	"github.com/wspotter/felix/pkg/types"
)

// ToolDefinition describes a tool offered to the model for a single Chat
// call. It carries no handler — execution is the Tool Registry's job, not
// the LLM adapter's.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object: {"type":"object","properties":{...},"required":[...]}.
	Parameters map[string]any
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Chat sends messages and the currently offered tools to the model and
	// returns a read-only channel of normalized Chunks. The channel is
	// closed by the implementation after emitting exactly one terminating
	// chunk (ChunkFinish on success, ChunkError on failure) or when ctx is
	// cancelled, whichever comes first.
	Chat(ctx context.Context, messages []types.Message, tools []ToolDefinition) (<-chan types.Chunk, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. Assumed constant for the Provider's
	// lifetime.
	Capabilities() types.ModelCapabilities
}
