package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/LJTian/MarketBrief/internal/logging"
	"github.com/LJTian/MarketBrief/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	calls atomic.Int32
	err   error
	ctx   context.Context
}

func (j *countingJob) Run(ctx context.Context) (*pipeline.Report, error) {
	j.calls.Add(1)
	j.ctx = ctx
	if j.err != nil {
		return nil, j.err
	}
	return &pipeline.Report{RunID: "r1", Delivered: true}, nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New("not a cron spec", &countingJob{}, logging.Discard())
	assert.Error(t, err)
}

func TestNewAcceptsTimezoneSpec(t *testing.T) {
	s, err := New("CRON_TZ=Asia/Seoul 0 7 * * *", &countingJob{}, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, s.Cron().Entries(), 1)
}

func TestRunOnceLogsErrorsWithoutPanicking(t *testing.T) {
	for _, job := range []*countingJob{
		{},
		{err: errors.New("no data")},
		{err: pipeline.ErrRunInProgress},
	} {
		s, err := New("0 7 * * *", job, logging.Discard())
		require.NoError(t, err)
		assert.NotPanics(t, s.RunOnce)
		assert.Equal(t, int32(1), job.calls.Load())
	}
}

func TestRunOnceContextPassesContext(t *testing.T) {
	job := &countingJob{}
	s, err := New("0 7 * * *", job, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnceContext(ctx)

	require.NotNil(t, job.ctx)
	assert.ErrorIs(t, job.ctx.Err(), context.Canceled)
}

func TestStartStop(t *testing.T) {
	s, err := New("0 7 * * *", &countingJob{}, logging.Discard())
	require.NoError(t, err)
	s.Start()
	<-s.Stop().Done()
}
