package agentrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseToolCallRecognizesDirective(t *testing.T) {
	d, ok := parseToolCall(`TOOL_CALL: {"name": "search", "arguments": {"q": "go"}}`)
	assert.True(t, ok)
	assert.Equal(t, "search", d.Name)
	assert.Equal(t, "go", d.Arguments["q"])
}

func TestParseToolCallRejectsPlainAnswer(t *testing.T) {
	_, ok := parseToolCall("the answer is 42")
	assert.False(t, ok)
}

func TestParseToolCallRejectsMalformedPayload(t *testing.T) {
	_, ok := parseToolCall("TOOL_CALL: not json")
	assert.False(t, ok)
}

func TestToolResultContentWrapsError(t *testing.T) {
	out := toolResultContent(nil, assertErr{})
	assert.Contains(t, out, "boom")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
