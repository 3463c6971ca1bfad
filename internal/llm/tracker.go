package llm

import (
	"fmt"
	"time"
)

// DefaultCompressionThreshold is the context estimate (in tokens) above which
// the conversation gets compressed.
const DefaultCompressionThreshold = 400_000

// charsPerToken is the fallback estimation ratio when no real token counts
// have been observed yet.
const charsPerToken = 3

// ConversationTracker keeps a running size estimate of the live conversation
// so compression can trigger before the provider's context window fills up.
// Messages are append-only; Reset replaces the whole tracker state.
type ConversationTracker struct {
	messages         []ConversationMessage
	totalChars       int
	actualTokensUsed int
	threshold        int

	now func() time.Time
}

// NewConversationTracker creates a tracker with the given compression
// threshold. Zero or negative uses the default.
func NewConversationTracker(threshold int) *ConversationTracker {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	return &ConversationTracker{
		threshold: threshold,
		now:       time.Now,
	}
}

// AddMessage appends a message. tokenCount is the real provider-reported
// count when known, zero otherwise.
func (t *ConversationTracker) AddMessage(role, content string, functionCalls []ToolCall, tokenCount int) {
	t.messages = append(t.messages, ConversationMessage{
		Role:          role,
		Content:       content,
		FunctionCalls: functionCalls,
		Timestamp:     t.now(),
		CharCount:     len(content),
		TokenCount:    tokenCount,
	})
	t.totalChars += len(content)
	if tokenCount > 0 {
		t.actualTokensUsed += tokenCount
	}
}

// ContextEstimate returns the estimated token size of the live context.
// Real counts win when available; otherwise roughly 3 chars per token.
func (t *ConversationTracker) ContextEstimate() int {
	if t.actualTokensUsed > 0 {
		return t.actualTokensUsed
	}
	return t.totalChars / charsPerToken
}

// ShouldCompress reports whether the context estimate has crossed the
// compression threshold
func (t *ConversationTracker) ShouldCompress() bool {
	return t.ContextEstimate() > t.threshold
}

// Messages returns the tracked messages, newest last
func (t *ConversationTracker) Messages() []ConversationMessage {
	return t.messages
}

// RecentUserGoal scans the last few user messages for something substantial
// enough to serve as the goal for a compressed restart.
func (t *ConversationTracker) RecentUserGoal() string {
	start := len(t.messages) - 10
	if start < 0 {
		start = 0
	}
	for i := len(t.messages) - 1; i >= start; i-- {
		msg := t.messages[i]
		if msg.Role == "user" && len(msg.Content) > 20 {
			if len(msg.Content) > 200 {
				return msg.Content[:200] + "..."
			}
			return msg.Content
		}
	}
	return ""
}

// Reset clears the tracker after a compression and seeds it with a synthetic
// system message noting the prior token count, keeping the audit trail of
// elapsed usage continuous across resets.
func (t *ConversationTracker) Reset(priorTokens int) {
	t.messages = nil
	t.totalChars = 0
	t.actualTokensUsed = 0
	t.AddMessage("system", fmt.Sprintf("Conversation compressed. Previous context: %d tokens", priorTokens), nil, 0)
}
