package hierarchy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultDelegateTimeout bounds a single call into a distributed child
// (spec §4.9 "the parent enforces a per-call timeout").
const DefaultDelegateTimeout = 30 * time.Second

// Delegator invokes a child node's C8 HTTP surface when that child runs in
// a separate process (spec §4.9 "Delegation (distributed)").
type Delegator struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewDelegator returns a Delegator using the spec's default per-call
// timeout.
func NewDelegator() *Delegator {
	return &Delegator{httpClient: &http.Client{}, timeout: DefaultDelegateTimeout}
}

type delegateChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// Chat sends a single-turn prompt to a child node's /api/chat endpoint and
// returns its raw JSON response body. Errors from the child are surfaced
// intact to the caller (spec §4.9 "surfaces the child's error intact")
// rather than wrapped or swallowed.
func (d *Delegator) Chat(ctx context.Context, childURL, agentName, prompt string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req := delegateChatRequest{Model: agentName}
	req.Messages = append(req.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode delegate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, childURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build delegate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("delegate call to %q: %w", childURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read delegate response from %q: %w", childURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("child %q returned %d: %s", childURL, resp.StatusCode, string(raw))
	}
	return raw, nil
}
