package mcpclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrorNilIsNoRetry(t *testing.T) {
	assert.Equal(t, noRetry, classifyError(nil))
}

func TestClassifyErrorContextCanceledIsNoRetry(t *testing.T) {
	assert.Equal(t, noRetry, classifyError(context.Canceled))
}

func TestClassifyErrorConnectionRefusedRetries(t *testing.T) {
	err := errors.New("dial tcp 127.0.0.1:9: connect: connection refused")
	assert.Equal(t, retryNewSession, classifyError(err))
}

func TestClassifyErrorTimeoutIsNoRetry(t *testing.T) {
	assert.Equal(t, noRetry, classifyError(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}
