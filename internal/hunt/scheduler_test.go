package hunt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context) (Result, error) {
	b.runs.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return Result{}, nil
}

func TestSchedulerRejectsOverlappingRuns(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(context.Background(), runner, quietLogger())

	require.True(t, s.Kick())
	<-runner.started

	assert.False(t, s.Kick())
	_, err := s.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(1), runner.runs.Load())

	_, err = s.RunNow(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(2), runner.runs.Load())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background(), newBlockingRunner(), quietLogger())
	assert.Error(t, s.Schedule("not a cron"))
	assert.NoError(t, s.Schedule("0 6 * * *"))
}
