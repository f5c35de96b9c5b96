package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/sandbox"
)

// FilesystemToolName identifies the sandbox filesystem tool.
const FilesystemToolName = "filesystem"

const filesystemDescription = `Read, write and inspect files inside the sandbox.
Operations: read (return file content), write (create or overwrite a file),
list (directory entries, one per line), exists (report whether a path exists and what it is).`

// Filesystem exposes the sandbox filesystem primitives as a single tool with
// an operation selector, matching how models are prompted to use it.
type Filesystem struct {
	sandbox sandbox.Sandbox
}

// NewFilesystem creates a filesystem tool bound to the given sandbox.
func NewFilesystem(sb sandbox.Sandbox) *Filesystem {
	return &Filesystem{sandbox: sb}
}

// Name implements Tool.
func (t *Filesystem) Name() string { return FilesystemToolName }

// Description implements Tool.
func (t *Filesystem) Description() string { return filesystemDescription }

// Parameters implements Tool.
func (t *Filesystem) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"description": "The filesystem operation to perform.",
				"enum":        []string{"read", "write", "list", "exists"},
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Target path, relative to the sandbox work directory.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File content for the write operation.",
			},
		},
		"required": []string{"operation", "path"},
	}
}

// Execute implements Tool. Bad arguments and missing files become error
// results the model can react to; only sandbox infrastructure failures are
// returned as errors.
func (t *Filesystem) Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error) {
	operation, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	if path == "" {
		return core.NewErrorResult("Error: 'path' argument is required"), nil
	}

	switch operation {
	case "read":
		content, err := t.sandbox.ReadFile(ctx, path)
		if err != nil {
			return core.NewErrorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return core.NewToolResult(content), nil

	case "write":
		content, _ := args["content"].(string)
		if err := t.sandbox.WriteFile(ctx, path, content); err != nil {
			return core.NewErrorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return core.NewToolResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil

	case "list":
		entries, err := t.sandbox.ListDir(ctx, path)
		if err != nil {
			return core.NewErrorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		if len(entries) == 0 {
			return core.NewToolResult(fmt.Sprintf("Directory %s is empty", path)), nil
		}
		return core.NewToolResult(strings.Join(entries, "\n")), nil

	case "exists":
		info, err := t.sandbox.Stat(ctx, path)
		if err != nil {
			return core.NewErrorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		switch {
		case !info.Exists:
			return core.NewToolResult(fmt.Sprintf("%s does not exist", path)), nil
		case info.IsDir:
			return core.NewToolResult(fmt.Sprintf("%s is a directory", path)), nil
		default:
			return core.NewToolResult(fmt.Sprintf("%s is a file (%d bytes)", path, info.Size)), nil
		}

	default:
		return core.NewErrorResult(fmt.Sprintf("Error: unknown operation %q", operation)), nil
	}
}

var _ Tool = (*Filesystem)(nil)
