package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/sandbox"
)

func newEchoTool() Tool {
	return NewFunctionTool("echo", "Echo text back",
		util.ObjectSchema(map[string]any{
			"text": util.StringProperty("Text to echo"),
		}, "text"),
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func TestFunctionToolCall(t *testing.T) {
	tl := newEchoTool()

	result, err := tl.Call(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestFunctionToolValidatesArguments(t *testing.T) {
	tl := newEchoTool()

	_, err := tl.Call(context.Background(), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	assert.Equal(t, "echo", toolErr.Tool)
}

func TestFunctionToolWrapsExecutionErrors(t *testing.T) {
	tl := NewFunctionTool("boom", "Always fail",
		util.ObjectSchema(map[string]any{}),
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("kaput")
		})

	_, err := tl.Call(context.Background(), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Contains(t, toolErr.Message, "kaput")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newEchoTool())

	_, ok := r["echo"]
	assert.True(t, ok)
	assert.Equal(t, []string{"echo"}, r.Names())
}

// fakeSandbox records executed commands and replays canned results.
type fakeSandbox struct {
	commands []string
	result   sandbox.Result
	err      error
}

func (f *fakeSandbox) Exec(_ context.Context, command, _ string) (sandbox.Result, error) {
	f.commands = append(f.commands, command)
	return f.result, f.err
}

func TestSandboxToolsCatalogue(t *testing.T) {
	tools := SandboxTools(&fakeSandbox{}, "/work")
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name())
	}
	assert.ElementsMatch(t, []string{"read_file", "write_file", "list_directory", "run_command", "run_tests"}, names)
}

func TestReadFileTool(t *testing.T) {
	sb := &fakeSandbox{result: sandbox.Result{Stdout: "package main\n", ExitCode: 0}}
	tl := readFileTool(sb, "/work")

	result, err := tl.Call(context.Background(), map[string]any{"filepath": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main\n", result)
	require.Len(t, sb.commands, 1)
	assert.Equal(t, "cat 'main.go'", sb.commands[0])
}

func TestReadFileToolReportsFailureAsText(t *testing.T) {
	sb := &fakeSandbox{result: sandbox.Result{Stdout: "No such file", ExitCode: 1}}
	tl := readFileTool(sb, "/work")

	result, err := tl.Call(context.Background(), map[string]any{"filepath": "missing.go"})
	require.NoError(t, err)
	assert.Contains(t, result.(string), "Error reading file")
}

func TestWriteFileToolUsesHeredoc(t *testing.T) {
	sb := &fakeSandbox{result: sandbox.Result{ExitCode: 0}}
	tl := writeFileTool(sb, "/work")

	result, err := tl.Call(context.Background(), map[string]any{
		"filepath": "notes.txt",
		"content":  "line one\nline two",
	})
	require.NoError(t, err)
	assert.Equal(t, "File written successfully", result)
	require.Len(t, sb.commands, 1)
	assert.True(t, strings.HasPrefix(sb.commands[0], "cat > 'notes.txt'"))
	assert.Contains(t, sb.commands[0], "line one\nline two")
}

func TestRunCommandToolReportsExitCode(t *testing.T) {
	sb := &fakeSandbox{result: sandbox.Result{Stdout: "output here", ExitCode: 2}}
	tl := runCommandTool(sb, "/work")

	result, err := tl.Call(context.Background(), map[string]any{"command": "ls /nope"})
	require.NoError(t, err)
	assert.Equal(t, "Exit code: 2\noutput here", result)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
