package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCapabilities struct {
	snapshots map[string]string
	fail      bool
}

func (s *stubCapabilities) Has(name string) bool {
	_, ok := s.snapshots[name]
	return ok
}

func (s *stubCapabilities) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if s.fail {
		return "", errors.New("board unavailable")
	}
	return s.snapshots[name], nil
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Model:             "gemini-2.5-flash",
		SystemInstruction: "You are a helpful assistant.",
		Tools: []ToolDefinition{
			{Name: "read_file", Description: "Read a file"},
		},
		Generation:     GenerationConfig{Temperature: 0.8, TopP: 0.9, MaxOutputTokens: 8192},
		SafetySettings: map[string]string{"HARASSMENT": "BLOCK_MEDIUM_AND_ABOVE"},
	}
}

func TestExtractStateValidResponse(t *testing.T) {
	payload := `{
		"user_goal": "ship the migration",
		"current_task_plan": {"goal": "migrate", "tasks": ["a", "b"], "status": "in progress"},
		"completed_tasks": ["created schema"],
		"key_discoveries": ["legacy table has orphans"],
		"active_context": ["working in internal/store"],
		"tool_results_summary": {"read_file": "schema.sql contents"},
		"current_step": "writing migration",
		"next_actions": ["run backfill"]
	}`
	session := NewStubSession(testSessionConfig(), StubReply{Reply: &Reply{Text: payload}})
	c := NewContextCompressor(&StubFactory{}, nil)

	state := c.ExtractState(context.Background(), session, "fallback goal")

	assert.Equal(t, "ship the migration", state.UserGoal)
	assert.Equal(t, "writing migration", state.CurrentStep)
	require.NotNil(t, state.CurrentTaskPlan)
	assert.Equal(t, "migrate", state.CurrentTaskPlan.Goal)
	assert.Equal(t, []string{"run backfill"}, state.NextActions)
	assert.NotEmpty(t, state.SessionID)
}

func TestExtractStateStripsCodeFences(t *testing.T) {
	payload := "```json\n{\"user_goal\": \"fenced goal\", \"current_step\": \"step\"}\n```"
	session := NewStubSession(testSessionConfig(), StubReply{Reply: &Reply{Text: payload}})
	c := NewContextCompressor(&StubFactory{}, nil)

	state := c.ExtractState(context.Background(), session, "")
	assert.Equal(t, "fenced goal", state.UserGoal)
}

func TestExtractStateFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply StubReply
	}{
		{"call error", StubReply{Err: errors.New("500 boom")}},
		{"malformed json", StubReply{Reply: &Reply{Text: "not json at all"}}},
		{"unknown fields rejected", StubReply{Reply: &Reply{Text: `{"user_goal": "g", "surprise": true}`}}},
		{"wrong types rejected", StubReply{Reply: &Reply{Text: `{"user_goal": 42}`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewStubSession(testSessionConfig(), tt.reply)
			c := NewContextCompressor(&StubFactory{}, nil)

			state := c.ExtractState(context.Background(), session, "finish the report")

			assert.Equal(t, "finish the report", state.UserGoal)
			assert.Equal(t, "Resuming after compression", state.CurrentStep)
		})
	}
}

func TestExtractStateFallbackDefaultGoal(t *testing.T) {
	session := NewStubSession(testSessionConfig(), StubReply{Err: errors.New("boom server")})
	c := NewContextCompressor(&StubFactory{}, nil)

	state := c.ExtractState(context.Background(), session, "")
	assert.Equal(t, "Continue previous work", state.UserGoal)
}

func TestCompressedPromptBoundedSize(t *testing.T) {
	c := NewContextCompressor(&StubFactory{}, nil)

	small := c.CompressedPrompt(&ConversationState{
		SessionID:   "session_x",
		UserGoal:    "goal",
		CurrentStep: "step",
	}, "")

	huge := &ConversationState{
		SessionID:   "session_y",
		UserGoal:    strings.Repeat("goal ", 1000),
		CurrentStep: "step",
	}
	for i := 0; i < 5000; i++ {
		huge.CompletedTasks = append(huge.CompletedTasks, fmt.Sprintf("task %d: %s", i, strings.Repeat("detail ", 50)))
		huge.KeyDiscoveries = append(huge.KeyDiscoveries, strings.Repeat("discovery ", 50))
		huge.ActiveContext = append(huge.ActiveContext, strings.Repeat("context ", 50))
		huge.NextActions = append(huge.NextActions, strings.Repeat("action ", 50))
	}
	huge.ToolResultsSummary = map[string]string{}
	for i := 0; i < 500; i++ {
		huge.ToolResultsSummary[fmt.Sprintf("tool_%d", i)] = strings.Repeat("result ", 100)
	}

	rendered := c.CompressedPrompt(huge, strings.Repeat("board ", 5000))

	assert.NotEmpty(t, small)
	// List truncation keeps the rendered prompt under a fixed cap no matter
	// how much history produced the state
	assert.Less(t, len(rendered), 8000)
}

func TestCompressedPromptKeepsMostRecentItems(t *testing.T) {
	c := NewContextCompressor(&StubFactory{}, nil)

	state := &ConversationState{SessionID: "s", UserGoal: "g", CurrentStep: "c"}
	for i := 1; i <= 10; i++ {
		state.CompletedTasks = append(state.CompletedTasks, fmt.Sprintf("task-%d", i))
	}

	rendered := c.CompressedPrompt(state, "")

	assert.NotContains(t, rendered, "task-5\n")
	for i := 6; i <= 10; i++ {
		assert.Contains(t, rendered, fmt.Sprintf("task-%d", i))
	}
}

func TestCompressedPromptIncludesCompressionCounter(t *testing.T) {
	c := NewContextCompressor(&StubFactory{}, nil)
	rendered := c.CompressedPrompt(&ConversationState{SessionID: "s", UserGoal: "g"}, "")
	assert.Contains(t, rendered, "compression #1")
}

func TestBoardSnapshotBestEffort(t *testing.T) {
	c := NewContextCompressor(&StubFactory{}, nil)
	assert.Empty(t, c.BoardSnapshot(context.Background()), "nil registry yields empty snapshot")

	c = NewContextCompressor(&StubFactory{}, &stubCapabilities{fail: true, snapshots: map[string]string{CapabilityCurrentPlan: ""}})
	assert.Empty(t, c.BoardSnapshot(context.Background()), "dispatch failure is swallowed")

	c = NewContextCompressor(&StubFactory{}, &stubCapabilities{snapshots: map[string]string{CapabilityCurrentPlan: "## Board\n- [ ] task"}})
	assert.Contains(t, c.BoardSnapshot(context.Background()), "## Board")
}

func TestCompressAndRestart(t *testing.T) {
	factory := &StubFactory{}
	caps := &stubCapabilities{snapshots: map[string]string{CapabilityCurrentPlan: "## Board"}}
	c := NewContextCompressor(factory, caps)

	oldSession := NewStubSession(testSessionConfig(), StubReply{Err: errors.New("extraction down: 503")})

	newSession, state, err := c.CompressAndRestart(context.Background(), oldSession, "keep going")
	require.NoError(t, err)
	require.NotNil(t, newSession)
	require.NotNil(t, state)

	// Extraction failed, so the fallback state drives the new prompt
	assert.Equal(t, "keep going", state.UserGoal)
	assert.Equal(t, 1, c.CompressionCount())
	assert.Equal(t, state, c.CurrentState())

	// The restarted session keeps the old tools, generation parameters and
	// safety settings but gets the compressed prompt as its instruction
	require.Len(t, factory.Created, 1)
	created := factory.Created[0]
	assert.Equal(t, "gemini-2.5-flash", created.Model)
	assert.Equal(t, testSessionConfig().Tools, created.Tools)
	assert.Equal(t, testSessionConfig().Generation, created.Generation)
	assert.Equal(t, testSessionConfig().SafetySettings, created.SafetySettings)
	assert.Contains(t, created.SystemInstruction, "compressed state")
	assert.Contains(t, created.SystemInstruction, "## Board")
	assert.NotEqual(t, testSessionConfig().SystemInstruction, created.SystemInstruction)
}

func TestCompressAndRestartFactoryError(t *testing.T) {
	factory := &StubFactory{Err: errors.New("no backend")}
	c := NewContextCompressor(factory, nil)
	session := NewStubSession(testSessionConfig(), StubReply{Reply: &Reply{Text: "{}"}})

	_, _, err := c.CompressAndRestart(context.Background(), session, "")
	assert.Error(t, err)
	assert.Zero(t, c.CompressionCount())
}
