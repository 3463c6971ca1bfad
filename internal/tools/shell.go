package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agentx/agentx-cli/internal/llm"
)

const shellTimeout = 60 * time.Second

type shellArgs struct {
	Command string `json:"command"`
	Workdir string `json:"workdir"`
}

// RegisterShell adds the shell command tool
func RegisterShell(r *Registry) {
	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "run_shell_command",
			Description: "Run a shell command and return its combined output",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{"type": "string", "description": "Command line to execute"},
					"workdir": map[string]interface{}{"type": "string", "description": "Working directory, defaults to the current one"},
				},
				"required": []string{"command"},
			},
		},
		Handler: runShellCommand,
	})
}

func runShellCommand(ctx context.Context, args json.RawMessage) (string, error) {
	var params shellArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("run_shell_command: invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return "", fmt.Errorf("run_shell_command: command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	if params.Workdir != "" {
		cmd.Dir = params.Workdir
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		// The model gets the output alongside the failure so it can react
		return "", fmt.Errorf("run_shell_command: %w\n%s", err, string(output))
	}
	if len(output) == 0 {
		return "(no output)", nil
	}
	return string(output), nil
}
