package mcpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// recoveryAction determines how a failed MCP operation is handled.
type recoveryAction int

const (
	noRetry recoveryAction = iota
	retryNewSession
)

// Timing constants (spec §4.7 "timeouts cancel the pending request").
const (
	maxRetries           = 1
	reinitTimeout        = 10 * time.Second
	operationTimeout     = 90 * time.Second
	retryBackoffMin      = 250 * time.Millisecond
	retryBackoffMax      = 750 * time.Millisecond
	initTimeout          = 30 * time.Second
	healthPingTimeout    = 5 * time.Second
	healthCheckInterval  = 15 * time.Second
)

// classifyError decides whether a failed call/list is worth one retry
// against a freshly recreated session, following the teacher's
// ClassifyError shape (pkg/mcp/recovery.go): context errors and protocol
// errors never retry, connection-level failures do.
func classifyError(err error) recoveryAction {
	if err == nil {
		return noRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return noRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return noRetry
		}
		return retryNewSession
	}

	if isConnectionError(err) {
		return retryNewSession
	}
	if isProtocolError(err) {
		return noRetry
	}
	return noRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest, jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
