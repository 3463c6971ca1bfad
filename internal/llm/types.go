package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Usage represents token usage information reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult carries the outcome of one tool invocation back to the model
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

// Content is the payload of one send: either user text or a batch of
// tool results feeding a previous round of tool calls.
type Content struct {
	Text        string       `json:"text,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Reply represents one model response
type Reply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// GenerationConfig holds sampling parameters carried across session restarts
type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// ToolDefinition describes one callable tool exposed to the model
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// SessionConfig is everything needed to open a model session. A compression
// restart clones the old session's config with a new system instruction.
type SessionConfig struct {
	Model             string            `json:"model"`
	SystemInstruction string            `json:"system_instruction"`
	Tools             []ToolDefinition  `json:"tools,omitempty"`
	Generation        GenerationConfig  `json:"generation"`
	SafetySettings    map[string]string `json:"safety_settings,omitempty"`
}

// Session is one live conversation with the model. Sends are strictly
// sequential; a session is never shared between turns in flight.
type Session interface {
	Send(ctx context.Context, content Content) (*Reply, error)
	Config() SessionConfig
}

// SessionFactory opens model sessions
type SessionFactory interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// CapabilityDispatcher is the narrow view of the function registry the core
// needs: optional capabilities are probed by name and may be absent.
type CapabilityDispatcher interface {
	Has(name string) bool
	Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// RateDecision is the outcome of one admission-control query
type RateDecision struct {
	Throttle    bool          `json:"throttle"`
	Reason      string        `json:"reason,omitempty"`
	WaitSeconds float64       `json:"wait_seconds"`
	Wait        time.Duration `json:"-"`
}

// TokenUsageRecord captures the usage and cost of one successful call.
// Immutable once created.
type TokenUsageRecord struct {
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	InputCost    float64   `json:"input_cost"`
	OutputCost   float64   `json:"output_cost"`
	TotalCost    float64   `json:"total_cost"`
	Model        string    `json:"model"`
	Timestamp    time.Time `json:"timestamp"`
}

// SessionCostSummary aggregates session totals. Derived values are computed
// on demand, never stored.
type SessionCostSummary struct {
	TotalInputTokens  int           `json:"total_input_tokens"`
	TotalOutputTokens int           `json:"total_output_tokens"`
	TotalTokens       int           `json:"total_tokens"`
	TotalCost         float64       `json:"total_cost"`
	ConversationCount int           `json:"conversation_count"`
	Elapsed           time.Duration `json:"-"`
	ElapsedMinutes    float64       `json:"elapsed_minutes"`
	CostPerMinute     float64       `json:"cost_per_minute"`
}

// ConversationMessage is one tracked message. Appended only, never mutated.
type ConversationMessage struct {
	Role          string     `json:"role"`
	Content       string     `json:"content"`
	FunctionCalls []ToolCall `json:"function_calls,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	CharCount     int        `json:"char_count"`
	TokenCount    int        `json:"token_count"`
}

// TaskPlan is the model's view of the current plan inside a compressed state
type TaskPlan struct {
	Goal   string   `json:"goal"`
	Tasks  []string `json:"tasks,omitempty"`
	Status string   `json:"status"`
}

// ConversationState is the compressed snapshot of a conversation. It is
// created only at compression time and its rendered size is capped
// independent of how long the source history was.
type ConversationState struct {
	SessionID          string            `json:"session_id"`
	UserGoal           string            `json:"user_goal"`
	CurrentTaskPlan    *TaskPlan         `json:"current_task_plan,omitempty"`
	CompletedTasks     []string          `json:"completed_tasks,omitempty"`
	KeyDiscoveries     []string          `json:"key_discoveries,omitempty"`
	ActiveContext      []string          `json:"active_context,omitempty"`
	ToolResultsSummary map[string]string `json:"tool_results_summary,omitempty"`
	CurrentStep        string            `json:"current_step"`
	NextActions        []string          `json:"next_actions,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}
