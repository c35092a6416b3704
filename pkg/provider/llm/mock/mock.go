// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct messages
// and tool definitions, and to feed controlled chunk sequences without a
// live LLM backend. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/types"
)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	Ctx      context.Context
	Messages []types.Message
	Tools    []llm.ToolDefinition
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of Chunk values emitted on the channel returned
	// by Chat. All chunks are sent before the channel is closed.
	Chunks []types.Chunk

	// ChatErr, if non-nil, is returned as the error from Chat instead of
	// opening a channel.
	ChatErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// ChatCalls records every invocation of Chat in order.
	ChatCalls []ChatCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Chat records the call and returns a channel that emits Chunks.
func (p *Provider) Chat(ctx context.Context, messages []types.Message, tools []llm.ToolDefinition) (<-chan types.Chunk, error) {
	p.mu.Lock()
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	tds := make([]llm.ToolDefinition, len(tools))
	copy(tds, tools)
	p.ChatCalls = append(p.ChatCalls, ChatCall{Ctx: ctx, Messages: msgs, Tools: tds})

	if p.ChatErr != nil {
		err := p.ChatErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]types.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	p.mu.Unlock()

	ch := make(chan types.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChatCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
