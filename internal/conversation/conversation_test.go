package conversation

import (
	"strings"
	"testing"

	"github.com/wspotter/felix/pkg/types"
)

func TestAppendUser_AddsUserRoleMessage(t *testing.T) {
	c := New(Config{SystemPrompt: "be helpful"})
	c.AppendUser("hello")

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != types.RoleUser || msgs[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestAppendAssistant_CarriesToolCalls(t *testing.T) {
	c := New(Config{})
	calls := []types.ToolCall{{ID: "tc_1", Name: "get_current_time"}}
	c.AppendAssistant("", calls)

	msgs := c.Messages()
	if len(msgs) != 1 || len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Name != "get_current_time" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestAppendToolResult_SetsToolMetadata(t *testing.T) {
	c := New(Config{})
	c.AppendToolResult("tc_1", "get_current_time", "12:00 PM")

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != types.RoleTool || msgs[0].ToolCallID != "tc_1" || msgs[0].ToolName != "get_current_time" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestAppend_DropsOldestWhenMaxMessagesExceeded(t *testing.T) {
	c := New(Config{MaxMessages: 2})
	c.AppendUser("one")
	c.AppendUser("two")
	c.AppendUser("three")

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "two" || msgs[1].Text != "three" {
		t.Fatalf("expected oldest message dropped, got %+v", msgs)
	}
}

func TestRenderForLLM_PrependsSystemPromptWhenRequested(t *testing.T) {
	c := New(Config{SystemPrompt: "be brief"})
	c.AppendUser("hi")

	withSystem := c.RenderForLLM(true)
	if len(withSystem) != 2 || withSystem[0].Role != types.RoleSystem || withSystem[0].Text != "be brief" {
		t.Fatalf("unexpected render: %+v", withSystem)
	}

	withoutSystem := c.RenderForLLM(false)
	if len(withoutSystem) != 1 || withoutSystem[0].Role != types.RoleUser {
		t.Fatalf("unexpected render: %+v", withoutSystem)
	}
}

func TestTrimToTokenLimit_DropsOldestUntilUnderBudget(t *testing.T) {
	c := New(Config{MaxTokensEstimate: 10})
	c.AppendUser(strings.Repeat("a", 40)) // ~10 tokens
	c.AppendUser(strings.Repeat("b", 40)) // ~10 tokens more, now over budget

	c.TrimToTokenLimit()

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected trim to drop the oldest message, got %d messages", len(msgs))
	}
	if msgs[0].Text != strings.Repeat("b", 40) {
		t.Fatalf("expected the newest message to survive trimming")
	}
}

func TestTrimToTokenLimit_NoopWhenUnderBudget(t *testing.T) {
	c := New(Config{MaxTokensEstimate: 1000})
	c.AppendUser("short")
	c.TrimToTokenLimit()

	if len(c.Messages()) != 1 {
		t.Fatal("expected no messages dropped when under budget")
	}
}

func TestClear_DropsAllNonSystemMessages(t *testing.T) {
	c := New(Config{SystemPrompt: "be brief"})
	c.AppendUser("hi")
	c.AppendAssistant("hello!", nil)
	c.Clear()

	if len(c.Messages()) != 0 {
		t.Fatal("expected Clear to drop all messages")
	}
	if c.SystemPrompt() != "be brief" {
		t.Fatal("expected Clear to leave the system prompt untouched")
	}
}

func TestRestore_ReplacesMessageLog(t *testing.T) {
	c := New(Config{SystemPrompt: "be brief"})
	c.AppendUser("stale message")

	restored := []types.Message{
		{Role: types.RoleUser, Text: "what's on my calendar today?"},
		{Role: types.RoleAssistant, Text: "You have a 3pm meeting."},
	}
	c.Restore(restored)

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", len(msgs))
	}
	if msgs[0].Text != restored[0].Text || msgs[1].Text != restored[1].Text {
		t.Fatalf("restored messages in wrong order or content: %+v", msgs)
	}
}

func TestRestore_RespectsMaxMessages(t *testing.T) {
	c := New(Config{MaxMessages: 1})
	c.Restore([]types.Message{
		{Role: types.RoleUser, Text: "first"},
		{Role: types.RoleUser, Text: "second"},
	})

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Text != "second" {
		t.Fatalf("expected Restore to respect MaxMessages, got %+v", msgs)
	}
}
