package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLaneSerializesSameName(t *testing.T) {
	reg := newLaneRegistry()
	var active int32
	var sawOverlap bool

	run := func() {
		n := atomic.AddInt32(&active, 1)
		if n > 1 {
			sawOverlap = true
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			reg.do(context.Background(), "agent-a", func(ctx context.Context) { run() })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.False(t, sawOverlap)
}

func TestLaneAllowsDifferentNamesConcurrently(t *testing.T) {
	reg := newLaneRegistry()
	start := time.Now()

	done := make(chan struct{}, 2)
	for _, name := range []string{"agent-a", "agent-b"} {
		name := name
		go func() {
			reg.do(context.Background(), name, func(ctx context.Context) {
				time.Sleep(30 * time.Millisecond)
			})
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	assert.Less(t, time.Since(start), 60*time.Millisecond)
}
