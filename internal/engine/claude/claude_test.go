package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/engine"
)

func TestParseLineInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"sess-abc123"}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	assert.Equal(t, engine.MessageInit, msg.Type)
	assert.Equal(t, "sess-abc123", msg.SessionID)
}

func TestParseLineAssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the sheet now."}]}}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	assert.Equal(t, engine.MessageAssistant, msg.Type)
	assert.Equal(t, []string{"Looking at the sheet now."}, msg.TextBlocks)
	assert.Empty(t, msg.ToolCalls)
}

func TestParseLineAssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Running the script."},` +
		`{"type":"tool_use","name":"Bash","input":{"command":"ls -la"}}]}}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	assert.Equal(t, engine.MessageAssistant, msg.Type)
	assert.Equal(t, []string{"Running the script."}, msg.TextBlocks)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "Bash", msg.ToolCalls[0].Name)
	assert.Equal(t, "ls -la", msg.ToolCalls[0].Input["command"])
}

func TestParseLineToolResultString(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result","content":"total 4\n-rw-r--r-- 1","is_error":false}]}}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	assert.Equal(t, engine.MessageTool, msg.Type)
	require.NotNil(t, msg.ToolResult)
	assert.Equal(t, "total 4\n-rw-r--r-- 1", msg.ToolResult.Content)
	assert.False(t, msg.ToolResult.IsError)
}

func TestParseLineToolResultBlocks(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}],"is_error":true}]}}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	require.NotNil(t, msg.ToolResult)
	assert.Equal(t, "line one\nline two", msg.ToolResult.Content)
	assert.True(t, msg.ToolResult.IsError)
}

func TestParseLineResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"Updated 12 rows.","is_error":false}`

	msg := ParseLine(line)
	require.NotNil(t, msg)
	assert.Equal(t, engine.MessageResult, msg.Type)
	require.NotNil(t, msg.Result)
	assert.Equal(t, "Updated 12 rows.", msg.Result.Summary)
	assert.False(t, msg.Result.IsError)
}

func TestParseLineIgnored(t *testing.T) {
	cases := []string{
		"",
		"plain text output",
		`{"type":"unknown_event"}`,
		`{"type":"system","subtype":"compact"}`,
		`{"type":"assistant","message":{"content":[]}}`,
		`not json {`,
	}
	for _, line := range cases {
		assert.Nil(t, ParseLine(line), "line %q should be ignored", line)
	}
}
