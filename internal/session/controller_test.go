package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx-cli/internal/llm"
	"github.com/agentx/agentx-cli/internal/tools"
)

func testOptions() Options {
	return Options{
		Model:             "gemini-2.5-flash",
		SystemInstruction: "You are a helpful assistant.",
		Generation:        llm.GenerationConfig{Temperature: 0.8, MaxOutputTokens: 8192},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestStartBuildsSessionWithToolsAndInstruction(t *testing.T) {
	registry := tools.NewRegistry()
	tools.RegisterFilesystem(registry)

	factory := &llm.StubFactory{}
	c := NewController(testOptions(), factory, registry, quietLogger())

	require.NoError(t, c.Start(context.Background()))
	require.Len(t, factory.Created, 1)

	cfg := factory.Created[0]
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Contains(t, cfg.SystemInstruction, "helpful assistant")
	assert.Len(t, cfg.Tools, registry.Len())
}

func TestStartSeedsBoardStateIntoInstruction(t *testing.T) {
	dir := t.TempDir()
	board := &tools.Board{BoardPath: dir + "/board.md", JournalPath: dir + "/journal.md"}

	registry := tools.NewRegistry()
	board.Register(registry)

	factory := &llm.StubFactory{}
	c := NewController(testOptions(), factory, registry, quietLogger())

	require.NoError(t, c.Start(context.Background()))
	require.Len(t, factory.Created, 1)
	// Without a board file the probe still succeeds with a placeholder
	assert.Contains(t, factory.Created[0].SystemInstruction, "CURRENT WORK STATE")
}

func TestRunTurnPlainText(t *testing.T) {
	factory := &llm.StubFactory{Script: []llm.StubReply{
		{Reply: &llm.Reply{Text: "hello back", Usage: &llm.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}}},
	}}
	c := NewController(testOptions(), factory, nil, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	text, err := c.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello back", text)

	// Both sides of the exchange are tracked
	assert.Equal(t, 1, c.CostSummary().ConversationCount)
	assert.Equal(t, 10, c.ContextEstimate())
}

func TestRunTurnDispatchesTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.Tool{
		Definition: llm.ToolDefinition{Name: "lookup", Description: "lookup"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "lookup says 42", nil
		},
	})

	factory := &llm.StubFactory{Script: []llm.StubReply{
		{Reply: &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}}},
		{Reply: &llm.Reply{Text: "the answer is 42"}},
	}}
	c := NewController(testOptions(), factory, registry, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	text, err := c.RunTurn(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", text)

	// The tool result went back to the session as a function response
	stub := c.session.(*llm.StubSession)
	sent := stub.Sent()
	require.Len(t, sent, 2)
	require.Len(t, sent[1].ToolResults, 1)
	assert.Equal(t, "lookup says 42", sent[1].ToolResults[0].Output)
}

func TestRunTurnToolErrorsGoBackToModel(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.Tool{
		Definition: llm.ToolDefinition{Name: "flaky", Description: "flaky"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("disk on fire")
		},
	})

	factory := &llm.StubFactory{Script: []llm.StubReply{
		{Reply: &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "flaky"}}}},
		{Reply: &llm.Reply{Text: "noted the failure"}},
	}}
	c := NewController(testOptions(), factory, registry, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	text, err := c.RunTurn(context.Background(), "try the flaky tool")
	require.NoError(t, err, "a failing tool must not fail the turn")
	assert.Equal(t, "noted the failure", text)

	stub := c.session.(*llm.StubSession)
	sent := stub.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].ToolResults[0].Output, "Error executing flaky")
	assert.Contains(t, sent[1].ToolResults[0].Output, "disk on fire")
}

func TestRunTurnUnknownToolReported(t *testing.T) {
	factory := &llm.StubFactory{Script: []llm.StubReply{
		{Reply: &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "ghost"}}}},
		{Reply: &llm.Reply{Text: "ok"}},
	}}
	c := NewController(testOptions(), factory, nil, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	_, err := c.RunTurn(context.Background(), "use a tool I don't have")
	require.NoError(t, err)

	stub := c.session.(*llm.StubSession)
	sent := stub.Sent()
	assert.Contains(t, sent[1].ToolResults[0].Output, "Unknown function: ghost")
}

func TestRunTurnSurfacesTerminalErrors(t *testing.T) {
	factory := &llm.StubFactory{Script: []llm.StubReply{
		{Err: errors.New("400 invalid argument")},
	}}
	c := NewController(testOptions(), factory, nil, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	_, err := c.RunTurn(context.Background(), "hi")

	var nonRetryable *llm.NonRetryableError
	assert.ErrorAs(t, err, &nonRetryable)
}

func TestRunTurnToolLoopBounded(t *testing.T) {
	// A session that never stops asking for tools must hit the round cap
	script := make([]llm.StubReply, 0, 40)
	for i := 0; i < 40; i++ {
		script = append(script, llm.StubReply{
			Reply: &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c", Name: "ghost"}}},
		})
	}
	factory := &llm.StubFactory{Script: script}

	opts := testOptions()
	opts.MaxToolRounds = 3
	c := NewController(opts, factory, nil, quietLogger())
	require.NoError(t, c.Start(context.Background()))

	_, err := c.RunTurn(context.Background(), "loop forever")
	assert.ErrorContains(t, err, "exceeded 3 rounds")
}

func TestRunTurnBeforeStart(t *testing.T) {
	c := NewController(testOptions(), &llm.StubFactory{}, nil, quietLogger())
	_, err := c.RunTurn(context.Background(), "hi")
	assert.ErrorContains(t, err, "not started")
}
