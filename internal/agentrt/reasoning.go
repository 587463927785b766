package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreagent/controller/internal/mcpclient"
)

// Default reasoning-loop bounds (spec §4.8 "A reasoning loop bounds total
// iterations (default 5) and total wall-clock (default 60 s)").
const (
	DefaultMaxIterations = 5
	DefaultMaxWallClock  = 60 * time.Second
)

// toolCallPrefix marks an assistant message as a tool invocation directive
// rather than a final answer: `TOOL_CALL: {"name": "...", "arguments": {}}`.
const toolCallPrefix = "TOOL_CALL:"

type toolCallDirective struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseToolCall extracts a tool-call directive from an assistant reply, if
// present. A reply without the prefix is a final answer.
func parseToolCall(content string) (toolCallDirective, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, toolCallPrefix) {
		return toolCallDirective{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, toolCallPrefix))
	var d toolCallDirective
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return toolCallDirective{}, false
	}
	return d, true
}

// ReasoningLoop drives the generate/chat LLM<->tool cycle for one request
// (spec §4.8 "Tool delegation"), following the teacher's BaseAgent/
// Controller strategy shape but collapsed to a single bounded loop since
// this domain has exactly one iteration strategy, not a pluggable set.
type ReasoningLoop struct {
	llm           *LLMClient
	router        *mcpclient.Router
	maxIterations int
	maxWallClock  time.Duration
}

// NewReasoningLoop builds a loop with the spec's default bounds.
func NewReasoningLoop(llm *LLMClient, router *mcpclient.Router) *ReasoningLoop {
	return &ReasoningLoop{
		llm:           llm,
		router:        router,
		maxIterations: DefaultMaxIterations,
		maxWallClock:  DefaultMaxWallClock,
	}
}

// Run executes the loop against the given conversation, returning the final
// assistant message. Messages is mutated in place with every intermediate
// assistant/tool turn so the caller's session transcript stays complete.
func (r *ReasoningLoop) Run(ctx context.Context, messages *[]Message) (Message, error) {
	deadline := time.Now().Add(r.maxWallClock)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for i := 0; i < r.maxIterations; i++ {
		if time.Now().After(deadline) {
			return r.exhausted(), nil
		}

		reply, err := r.llm.Complete(ctx, *messages)
		if err != nil {
			return Message{}, fmt.Errorf("llm completion: %w", err)
		}
		*messages = append(*messages, reply)

		call, isToolCall := parseToolCall(reply.Content)
		if !isToolCall {
			return reply, nil
		}

		result, err := r.router.Call(ctx, call.Name, call.Arguments)
		toolContent := toolResultContent(result, err)
		toolMsg := Message{Role: RoleTool, Content: toolContent}
		*messages = append(*messages, toolMsg)
	}

	return r.exhausted(), nil
}

func (r *ReasoningLoop) exhausted() Message {
	return Message{Role: RoleAssistant, Content: "loop_exhausted"}
}

func toolResultContent(result any, err error) string {
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	encoded, mErr := json.Marshal(result)
	if mErr != nil {
		return fmt.Sprintf(`{"error": %q}`, mErr.Error())
	}
	return string(encoded)
}
