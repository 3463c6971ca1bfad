package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentx/agentx-cli/internal/llm"
)

// maxReadBytes caps how much of a file is returned to the model
const maxReadBytes = 64 * 1024

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type listDirectoryArgs struct {
	Path string `json:"path"`
}

// RegisterFilesystem adds the file read/write/list tools
func RegisterFilesystem(r *Registry) {
	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file at the given path",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "File path to read"},
				},
				"required": []string{"path"},
			},
		},
		Handler: readFile,
	})

	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    map[string]interface{}{"type": "string", "description": "File path to write"},
					"content": map[string]interface{}{"type": "string", "description": "Content to write"},
				},
				"required": []string{"path", "content"},
			},
		},
		Handler: writeFile,
	})

	r.Register(Tool{
		Definition: llm.ToolDefinition{
			Name:        "list_directory",
			Description: "List the entries of a directory",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "Directory path to list"},
				},
				"required": []string{"path"},
			},
		},
		Handler: listDirectory,
	})
}

func readFile(ctx context.Context, args json.RawMessage) (string, error) {
	var params readFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("read_file: invalid arguments: %w", err)
	}
	if params.Path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}

	data, err := os.ReadFile(params.Path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func writeFile(ctx context.Context, args json.RawMessage) (string, error) {
	var params writeFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("write_file: invalid arguments: %w", err)
	}
	if params.Path == "" {
		return "", fmt.Errorf("write_file: path is required")
	}

	if dir := filepath.Dir(params.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("write_file: %w", err)
		}
	}
	if err := os.WriteFile(params.Path, []byte(params.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.Path), nil
}

func listDirectory(ctx context.Context, args json.RawMessage) (string, error) {
	var params listDirectoryArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("list_directory: invalid arguments: %w", err)
	}
	if params.Path == "" {
		params.Path = "."
	}

	entries, err := os.ReadDir(params.Path)
	if err != nil {
		return "", fmt.Errorf("list_directory: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	if b.Len() == 0 {
		return "(empty directory)", nil
	}
	return b.String(), nil
}
