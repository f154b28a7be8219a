package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probeselect/logging"
)

type fakePruner struct {
	cutoff atomic.Value
	calls  atomic.Int64
	n      int64
	err    error
}

func (f *fakePruner) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	f.cutoff.Store(t)
	f.calls.Add(1)
	return f.n, f.err
}

func TestCreateJobPrunesPastRetention(t *testing.T) {
	p := &fakePruner{n: 4}
	var pruned int64

	job := CreateJob(p, time.Hour, logging.Discard(), Hooks{OnPruned: func(n int64) { pruned = n }})
	before := time.Now()
	job()

	cutoff := p.cutoff.Load().(time.Time)
	assert.WithinDuration(t, before.Add(-time.Hour), cutoff, time.Second)
	assert.Equal(t, int64(4), pruned)
}

func TestCreateJobReportsErrors(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	var gotErr error
	var prunedCalled bool

	CreateJob(p, time.Hour, logging.Discard(), Hooks{
		OnPruned: func(int64) { prunedCalled = true },
		OnError:  func(err error) { gotErr = err },
	})()

	assert.EqualError(t, gotErr, "disk full")
	assert.False(t, prunedCalled)
}

func TestStartScheduler(t *testing.T) {
	p := &fakePruner{}
	c, id, err := StartScheduler("@every 1s", CreateJob(p, time.Hour, logging.Discard(), Hooks{}), logging.Discard())
	require.NoError(t, err)
	defer c.Stop()

	assert.NotZero(t, id)
	assert.Eventually(t, func() bool { return p.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartSchedulerRejectsBadSpec(t *testing.T) {
	_, _, err := StartScheduler("whenever", func() {}, logging.Discard())
	assert.Error(t, err)
}
