package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/semaphore"

	"github.com/wspotter/felix/pkg/types"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 5
)

// Executor runs ToolCalls against a Registry under a process-wide
// concurrency bound and a per-call timeout. Execution failures of any kind
// — timeout, panic, handler error, unknown tool — are converted into a
// ToolResult with OK false rather than propagated, so a single misbehaving
// tool can never take down a turn.
type Executor struct {
	registry      *Registry
	sem           *semaphore.Weighted
	maxConcurrent int64
	timeout       time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxConcurrent overrides the default concurrency bound of 5.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrent = int64(n)
		}
	}
}

// WithTimeout overrides the default per-call timeout of 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecutor creates an Executor bound to registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:      registry,
		maxConcurrent: defaultMaxConcurrent,
		timeout:       defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	e.sem = semaphore.NewWeighted(e.maxConcurrent)
	return e
}

// Execute runs a single tool call, blocking until it completes, times out,
// or the semaphore cannot be acquired because ctx was cancelled first.
func (e *Executor) Execute(ctx context.Context, sessionID string, call types.ToolCall) types.ToolResult {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return types.ToolResult{ID: call.ID, Name: call.Name, OK: false, Text: err.Error()}
	}
	defer e.sem.Release(1)
	return e.run(ctx, sessionID, call)
}

// ExecuteMany runs calls concurrently, up to the executor's concurrency
// bound, and returns results in the same order as calls.
func (e *Executor) ExecuteMany(ctx context.Context, sessionID string, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call types.ToolCall) {
			defer wg.Done()
			results[i] = e.Execute(ctx, sessionID, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// run resolves the tool, dispatches its handler to a worker goroutine so a
// synchronous handler never blocks the caller past the timeout, and
// converts every failure mode into a ToolResult.
func (e *Executor) run(ctx context.Context, sessionID string, call types.ToolCall) types.ToolResult {
	start := time.Now()

	spec, ok := e.resolve(call.Name)
	if !ok {
		return types.ToolResult{ID: call.ID, Name: call.Name, OK: false, Text: fmt.Sprintf("tool %q not found", call.Name)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		out types.ToolOutcome
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := spec.Handler(types.ToolContext{SessionID: sessionID, ToolCallID: call.ID}, call.Arguments)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-timeoutCtx.Done():
		return types.ToolResult{
			ID:                call.ID,
			Name:              spec.Name,
			OK:                false,
			Text:              fmt.Sprintf("timeout after %s", e.timeout),
			ExecutionDuration: time.Since(start),
		}
	case res := <-done:
		dur := time.Since(start)
		if res.err != nil {
			return types.ToolResult{ID: call.ID, Name: spec.Name, OK: false, Text: res.err.Error(), ExecutionDuration: dur}
		}
		return types.ToolResult{
			ID:                call.ID,
			Name:              spec.Name,
			OK:                true,
			Text:              res.out.Text,
			FlyoutType:        res.out.FlyoutType,
			Flyout:            res.out.Flyout,
			ExecutionDuration: dur,
		}
	}
}

// resolve looks up name exactly, falling back to a phonetic nearest-match
// against every registered name when the model (or a transcription error
// further upstream) produced a near-miss. Falls back only when exactly one
// registered name shares the requested name's double-metaphone code.
func (e *Executor) resolve(name string) (types.ToolSpec, bool) {
	if spec, ok := e.registry.Get(name); ok {
		return spec, true
	}

	wantPrimary, _ := matchr.DoubleMetaphone(name)
	if wantPrimary == "" {
		return types.ToolSpec{}, false
	}

	var candidates []string
	for _, candidate := range e.registry.Names() {
		primary, _ := matchr.DoubleMetaphone(candidate)
		if primary == wantPrimary {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) != 1 {
		return types.ToolSpec{}, false
	}
	sort.Strings(candidates) // deterministic even though len==1 here
	return e.registry.Get(candidates[0])
}
