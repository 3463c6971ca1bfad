package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentx/agentx-cli/internal/llm"
)

// Board exposes a markdown task board and work journal as optional
// capabilities. The compressor probes these by name when it snapshots
// session state; a session configured without a board simply skips them.
type Board struct {
	BoardPath   string
	JournalPath string
}

const maxJournalLines = 40

type workContextArgs struct {
	Days int `json:"days"`
}

// Register adds the board capabilities to the registry
func (b *Board) Register(r *Registry) {
	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "display_current_plan",
			Description: "Show the current task board with planned, active and completed tasks",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		Handler: b.displayCurrentPlan,
	})

	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "get_work_context",
			Description: "Get recent work journal entries for context on what was done lately",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"days": map[string]interface{}{"type": "integer", "description": "How many days back to look"},
				},
			},
		},
		Handler: b.getWorkContext,
	})
}

func (b *Board) displayCurrentPlan(ctx context.Context, args json.RawMessage) (string, error) {
	data, err := os.ReadFile(b.BoardPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "No active task plan found.", nil
		}
		return "", fmt.Errorf("display_current_plan: %w", err)
	}
	return string(data), nil
}

func (b *Board) getWorkContext(ctx context.Context, args json.RawMessage) (string, error) {
	var params workContextArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("get_work_context: invalid arguments: %w", err)
		}
	}

	data, err := os.ReadFile(b.JournalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "No work journal found.", nil
		}
		return "", fmt.Errorf("get_work_context: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > maxJournalLines {
		lines = lines[len(lines)-maxJournalLines:]
	}
	return strings.Join(lines, "\n"), nil
}
