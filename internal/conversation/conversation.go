// Package conversation implements the Conversation Store (spec component
// C4): the ordered, bounded message log the pipeline orchestrator appends
// to on every turn and renders for each LLM call.
package conversation

import (
	"sync"

	"github.com/wspotter/felix/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation, matching
// the same 4-chars-per-token rule of thumb used elsewhere in felix's LLM
// plumbing. No tokenizer dependency is pulled in for an estimate this
// coarse.
const charsPerToken = 4

// Config configures a Conversation.
type Config struct {
	// SystemPrompt is immutable for the lifetime of the Conversation.
	SystemPrompt string

	// MaxMessages bounds the non-system message log; the oldest message is
	// dropped once a new append would exceed it. Zero means unbounded.
	MaxMessages int

	// MaxTokensEstimate is the budget TrimToTokenLimit enforces.
	MaxTokensEstimate int
}

// Conversation is the ordered, bounded message log for one session. Safe
// for concurrent use.
type Conversation struct {
	mu sync.Mutex

	systemPrompt string
	maxMessages  int
	maxTokens    int

	messages []types.Message
}

// New constructs a Conversation from cfg.
func New(cfg Config) *Conversation {
	return &Conversation{
		systemPrompt: cfg.SystemPrompt,
		maxMessages:  cfg.MaxMessages,
		maxTokens:    cfg.MaxTokensEstimate,
	}
}

// AppendUser appends a user-role message.
func (c *Conversation) AppendUser(text string) {
	c.append(types.Message{Role: types.RoleUser, Text: text})
}

// AppendAssistant appends an assistant-role message, optionally carrying
// tool calls the LLM requested in the same turn.
func (c *Conversation) AppendAssistant(text string, toolCalls []types.ToolCall) {
	c.append(types.Message{Role: types.RoleAssistant, Text: text, ToolCalls: toolCalls})
}

// AppendToolResult appends a tool-role message recording the outcome of
// one executed ToolCall.
func (c *Conversation) AppendToolResult(id, name, text string) {
	c.append(types.Message{Role: types.RoleTool, Text: text, ToolCallID: id, ToolName: name})
}

// append adds m to the log, dropping the oldest message if MaxMessages is
// exceeded. Must be called without the lock held.
func (c *Conversation) append(m types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		c.messages = c.messages[len(c.messages)-c.maxMessages:]
	}
}

// RenderForLLM returns the message log as a fresh slice ready to send to
// an LLM adapter. When includeSystem is true, a system-role message
// carrying the configured system prompt is prepended.
func (c *Conversation) RenderForLLM(includeSystem bool) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !includeSystem {
		out := make([]types.Message, len(c.messages))
		copy(out, c.messages)
		return out
	}

	out := make([]types.Message, 0, len(c.messages)+1)
	out = append(out, types.Message{Role: types.RoleSystem, Text: c.systemPrompt})
	out = append(out, c.messages...)
	return out
}

// TrimToTokenLimit drops the oldest non-system messages until the
// estimated token count is at or below MaxTokensEstimate. The system
// prompt itself is never dropped, only counted.
func (c *Conversation) TrimToTokenLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxTokens <= 0 {
		return
	}
	for c.estimateTokens() > c.maxTokens && len(c.messages) > 0 {
		c.messages = c.messages[1:]
	}
}

// estimateTokens returns (len(system_prompt) + sum(len(message.text))) / 4.
// Must be called with the lock held.
func (c *Conversation) estimateTokens() int {
	total := len(c.systemPrompt)
	for _, m := range c.messages {
		total += len(m.Text)
	}
	return total / charsPerToken
}

// Clear drops all non-system messages. The system prompt is unaffected.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Messages returns a copy of the raw message log, excluding the synthetic
// system message RenderForLLM prepends. Useful for persistence snapshots.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SystemPrompt returns the configured system prompt.
func (c *Conversation) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// Restore replaces the message log wholesale with messages, respecting
// MaxMessages. Intended for restoring a persisted snapshot at connection
// time, before any turn has run; callers must not interleave it with
// concurrent appends.
func (c *Conversation) Restore(messages []types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]types.Message(nil), messages...)
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		c.messages = c.messages[len(c.messages)-c.maxMessages:]
	}
}
