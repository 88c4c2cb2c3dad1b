package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matcher/apps/executor/internal/model"
)

type countingRunner struct{ runs atomic.Int32 }

func (r *countingRunner) RunOnce(context.Context) error {
	r.runs.Add(1)
	return nil
}

func TestSchedulerRunsEveryLoopUntilCancelled(t *testing.T) {
	store := &fakeStore{orders: []*model.Order{
		bidOrder("buy-1", alice, weth, usdc, 100, 5, 0),
		askOrder("sell-1", bob, weth, usdc, 10, 180, 0),
	}}
	settler := &fakeSettler{}
	crossChain := &countingRunner{}
	s := NewScheduler(10*time.Millisecond, newTestController(t, store), []*Network{NewNetwork("bsc", settler)}, crossChain, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return crossChain.runs.Load() >= 3 && len(settler.calls()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// the crossing pair settles once; later cycles find nothing left to match
	assert.Len(t, settler.calls(), 1)
}

func TestSchedulerWithoutCrossChain(t *testing.T) {
	s := NewScheduler(time.Hour, newTestController(t, &fakeStore{}), []*Network{NewNetwork("bsc", &fakeSettler{})}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
}

// slowRunner overruns the interval on its first cycle and records when each cycle ran.
type slowRunner struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
	first  time.Duration
}

func (r *slowRunner) RunOnce(context.Context) error {
	r.mu.Lock()
	n := len(r.starts)
	r.starts = append(r.starts, time.Now())
	r.mu.Unlock()

	if n == 0 {
		time.Sleep(r.first)
	}

	r.mu.Lock()
	r.ends = append(r.ends, time.Now())
	r.mu.Unlock()
	return nil
}

func (r *slowRunner) cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ends)
}

func TestSchedulerWaitsFreshTickAfterOverrun(t *testing.T) {
	crossChain := &slowRunner{first: 120 * time.Millisecond}
	s := NewScheduler(50*time.Millisecond, newTestController(t, &fakeStore{}), nil, crossChain, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return crossChain.cycles() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	crossChain.mu.Lock()
	defer crossChain.mu.Unlock()
	// the stale tick from the overrun is dropped; the next one is due at 150ms
	assert.GreaterOrEqual(t, crossChain.starts[1].Sub(crossChain.ends[0]), 15*time.Millisecond)
}
