// Package openai provides an LLM provider backed by the OpenAI API (and, via
// WithBaseURL, any OpenAI-compatible server such as LM Studio or a local
// vLLM/llama.cpp instance speaking the /v1/chat/completions dialect).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/provider/llm/dialect"
	"github.com/wspotter/felix/pkg/types"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// toolCallFragment accumulates one streamed tool call by index. The OpenAI
// wire dialect streams argument JSON as string fragments, so only the final
// concatenation is ever parsed.
type toolCallFragment struct {
	id      string
	name    string
	argsRaw strings.Builder
}

// Chat implements llm.Provider. It buffers the whole response and only
// decides between a text reply and tool calls once the stream ends, since
// whether fragmented tool-call JSON parses cleanly can't be known mid-stream.
func (p *Provider) Chat(ctx context.Context, messages []types.Message, tools []llm.ToolDefinition) (<-chan types.Chunk, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan types.Chunk, 8)
	go func() {
		defer close(ch)
		defer stream.Close()

		var accumulated strings.Builder
		fragments := map[int]*toolCallFragment{}
		order := []int{}
		truncated := false

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if !truncated && delta.Content != "" {
				accumulated.WriteString(delta.Content)
				if text, hit := dialect.RepetitionGuard(accumulated.String()); hit {
					accumulated.Reset()
					accumulated.WriteString(text)
					truncated = true
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				frag, ok := fragments[idx]
				if !ok {
					frag = &toolCallFragment{}
					fragments[idx] = frag
					order = append(order, idx)
				}
				if tc.ID != "" {
					frag.id = tc.ID
				}
				if tc.Function.Name != "" {
					frag.name = tc.Function.Name
				}
				frag.argsRaw.WriteString(tc.Function.Arguments)
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- types.Chunk{Kind: types.ChunkError, Err: fmt.Errorf("openai: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		toolCalls := resolveToolCalls(order, fragments)
		text := accumulated.String()
		if len(toolCalls) == 0 {
			if candidates := dialect.ExtractToolCalls(text); len(candidates) > 0 {
				toolCalls = candidatesToToolCalls(candidates)
				text = ""
			}
		}

		if len(toolCalls) > 0 {
			for _, tc := range toolCalls {
				select {
				case ch <- types.Chunk{Kind: types.ChunkToolCall, ToolCall: tc}:
				case <-ctx.Done():
					return
				}
			}
		} else if text != "" {
			select {
			case ch <- types.Chunk{Kind: types.ChunkText, Text: dialect.CleanArtifacts(text)}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- types.Chunk{Kind: types.ChunkFinish}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// resolveToolCalls parses each accumulated fragment's argument string,
// repairing malformed or truncated JSON where possible. A fragment with no
// recoverable name is dropped.
func resolveToolCalls(order []int, fragments map[int]*toolCallFragment) []types.ToolCall {
	var out []types.ToolCall
	for _, i := range order {
		frag := fragments[i]
		if frag.name == "" {
			continue
		}
		raw := frag.argsRaw.String()
		args, err := dialect.ReconstructFragments([]string{raw})
		if err != nil {
			if raw == "" {
				args = map[string]any{}
			} else {
				continue
			}
		}
		out = append(out, types.ToolCall{ID: frag.id, Name: frag.name, Arguments: args})
	}
	return out
}

// candidatesToToolCalls converts tool calls recovered from free-form text
// into types.ToolCall. The backend never assigned these an id.
func candidatesToToolCalls(candidates []dialect.ToolCallCandidate) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(candidates))
	for _, c := range candidates {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, types.ToolCall{Name: c.Name, Arguments: args})
	}
	return out
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelCapabilities returns ModelCapabilities for known OpenAI model names.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		SupportsVision:      false,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o-mini"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 4_096
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
		caps.MaxOutputTokens = 4_096
		caps.SupportsVision = false
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
		caps.MaxOutputTokens = 4_096
		caps.SupportsVision = false
	case strings.HasPrefix(lower, "o1-mini"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 65_536
		caps.SupportsVision = false
		caps.SupportsToolCalling = false
	case strings.HasPrefix(lower, "o1"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
		caps.SupportsToolCalling = true
	case strings.HasPrefix(lower, "o3-mini"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = false
		caps.SupportsToolCalling = true
	case strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
		caps.SupportsToolCalling = true
	}
	return caps
}

// buildParams converts messages and tool definitions into OpenAI SDK params.
func (p *Provider) buildParams(messages []types.Message, tools []llm.ToolDefinition) (oai.ChatCompletionNewParams, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		converted = append(converted, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: converted,
	}

	for _, td := range tools {
		toolParam := oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Text), nil

	case types.RoleUser:
		return oai.UserMessage(m.Text), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Text != "" {
			asst.Content.OfString = oai.String(m.Text)
		}
		for _, tc := range m.ToolCalls {
			argsJSON, err := marshalArguments(tc.Arguments)
			if err != nil {
				return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: marshal tool arguments: %w", err)
			}
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: argsJSON,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case types.RoleTool:
		return oai.ToolMessage(m.Text, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

func marshalArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
