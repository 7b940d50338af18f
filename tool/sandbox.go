package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/sandbox"
)

// SandboxTools returns the workspace tool set shared by every agent persona:
// file read/write, directory listing, shell execution and a test run helper.
// All of them are expressed as exec invocations over the sandbox boundary.
func SandboxTools(sb sandbox.Sandbox, workdir string) []Tool {
	return []Tool{
		readFileTool(sb, workdir),
		writeFileTool(sb, workdir),
		listDirectoryTool(sb, workdir),
		runCommandTool(sb, workdir),
		runTestsTool(sb, workdir),
	}
}

func readFileTool(sb sandbox.Sandbox, workdir string) Tool {
	return NewFunctionTool(
		"read_file",
		"Read contents of a file in the repository",
		util.ObjectSchema(map[string]any{
			"filepath": util.StringProperty("Path to file relative to repo root"),
		}, "filepath"),
		func(ctx context.Context, args map[string]any) (any, error) {
			filepath, _ := args["filepath"].(string)
			res, err := sb.Exec(ctx, fmt.Sprintf("cat %s", shellQuote(filepath)), workdir)
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				return fmt.Sprintf("Error reading file: %s", res.Stdout), nil
			}
			return res.Stdout, nil
		},
	)
}

func writeFileTool(sb sandbox.Sandbox, workdir string) Tool {
	return NewFunctionTool(
		"write_file",
		"Write or modify a file in the repository",
		util.ObjectSchema(map[string]any{
			"filepath": util.StringProperty("Path to file relative to repo root"),
			"content":  util.StringProperty("Full content to write to file"),
		}, "filepath", "content"),
		func(ctx context.Context, args map[string]any) (any, error) {
			filepath, _ := args["filepath"].(string)
			content, _ := args["content"].(string)
			cmd := fmt.Sprintf("cat > %s << 'TASKMESH_EOF'\n%s\nTASKMESH_EOF", shellQuote(filepath), content)
			res, err := sb.Exec(ctx, cmd, workdir)
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				return fmt.Sprintf("Error writing file: %s", res.Stdout), nil
			}
			return "File written successfully", nil
		},
	)
}

func listDirectoryTool(sb sandbox.Sandbox, workdir string) Tool {
	return NewFunctionTool(
		"list_directory",
		"List files and directories",
		util.ObjectSchema(map[string]any{
			"path": util.StringProperty("Path to list (default: current directory)"),
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			res, err := sb.Exec(ctx, fmt.Sprintf("find %s -type f -o -type d | head -100", shellQuote(path)), workdir)
			if err != nil {
				return nil, err
			}
			return res.Stdout, nil
		},
	)
}

func runCommandTool(sb sandbox.Sandbox, workdir string) Tool {
	return NewFunctionTool(
		"run_command",
		"Execute a bash command in the repository",
		util.ObjectSchema(map[string]any{
			"command": util.StringProperty("Bash command to execute"),
		}, "command"),
		func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			res, err := sb.Exec(ctx, command, workdir)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Exit code: %d\n%s", res.ExitCode, res.Stdout), nil
		},
	)
}

func runTestsTool(sb sandbox.Sandbox, workdir string) Tool {
	return NewFunctionTool(
		"run_tests",
		"Run the project's test suite and report the output",
		util.ObjectSchema(map[string]any{
			"command": util.StringProperty("Test command to run (default: auto-detect)"),
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			if command == "" {
				// Probe for the common runners rather than guessing the stack.
				command = "if [ -f go.mod ]; then go test ./...; " +
					"elif [ -f package.json ]; then npm test --silent; " +
					"elif [ -f pytest.ini ] || [ -d tests ]; then python -m pytest -q; " +
					"else echo 'no test runner detected'; exit 1; fi"
			}
			res, err := sb.Exec(ctx, command, workdir)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Exit code: %d\n%s", res.ExitCode, res.Stdout), nil
		},
	)
}

// shellQuote single-quotes a path argument for safe interpolation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
