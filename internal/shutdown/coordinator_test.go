package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunExecutesPhasesInOrder(t *testing.T) {
	c := New(time.Second, 2*time.Second, nil)
	var order []Phase
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	record := func(p Phase) Func {
		return func(ctx context.Context) error {
			<-mu
			order = append(order, p)
			mu <- struct{}{}
			return nil
		}
	}
	c.Register(PhasePersist, "persist", record(PhasePersist))
	c.Register(PhaseStopAccepting, "stop-accepting", record(PhaseStopAccepting))
	c.Register(PhaseInstances, "instances", record(PhaseInstances))

	clean := c.Run()
	assert.True(t, clean)
	assert.Equal(t, []Phase{PhaseStopAccepting, PhaseInstances, PhasePersist}, order)
}

func TestRunWatchdogForcesExitOnHangingHandler(t *testing.T) {
	c := New(50*time.Millisecond, 100*time.Millisecond, nil)
	c.Register(PhaseStopAccepting, "hangs", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	clean := c.Run()
	assert.False(t, clean)
}

func TestRunToleratesHandlerError(t *testing.T) {
	c := New(time.Second, 2*time.Second, nil)
	var ran int32
	c.Register(PhaseConnections, "failing", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return assertErr{}
	})
	c.Register(PhasePersist, "after", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	clean := c.Run()
	assert.True(t, clean)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(true))
	assert.Equal(t, 1, ExitCode(false))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
