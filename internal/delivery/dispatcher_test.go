package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LJTian/MarketBrief/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	sent   []string
	times  []time.Time
	failAt int // 从 1 开始计数，0 表示不失败
	panic  bool
}

func (r *recordingSink) Send(_ context.Context, text string) error {
	if r.panic {
		panic("socket closed")
	}
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		return errors.New("429 Too Many Requests")
	}
	r.sent = append(r.sent, text)
	r.times = append(r.times, time.Now())
	return nil
}

func chunksOf(texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Index: i, Text: t}
	}
	return out
}

func TestDispatchSendsInOrder(t *testing.T) {
	sink := &recordingSink{}
	ok, err := NewDispatcher(0, logging.Discard()).Dispatch(context.Background(), chunksOf("a", "b", "c"), sink)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, sink.sent)
}

func TestDispatchStopsAtFirstFailure(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	ok, err := NewDispatcher(0, logging.Discard()).Dispatch(context.Background(), chunksOf("a", "b", "c"), sink)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, []string{"a"}, sink.sent)
}

func TestDispatchRecoversSinkPanic(t *testing.T) {
	ok, err := NewDispatcher(0, logging.Discard()).Dispatch(context.Background(), chunksOf("a"), &recordingSink{panic: true})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDispatchPacesSuccessiveSends(t *testing.T) {
	const interval = 40 * time.Millisecond
	sink := &recordingSink{}
	ok, err := NewDispatcher(interval, logging.Discard()).Dispatch(context.Background(), chunksOf("a", "b", "c"), sink)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sink.times, 3)

	for i := 1; i < len(sink.times); i++ {
		// 留一点余量，限流器按令牌补充时间计算
		assert.GreaterOrEqual(t, sink.times[i].Sub(sink.times[i-1]), interval-5*time.Millisecond)
	}
}

func TestDispatchCanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	ok, err := NewDispatcher(time.Hour, logging.Discard()).Dispatch(ctx, chunksOf("a", "b"), sink)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, []string{"a"}, sink.sent)
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	sent    []string
	ctxErrs []error
}

func (b *blockingSink) Send(ctx context.Context, text string) error {
	if len(b.sent) == 0 {
		close(b.started)
		<-b.release
	}
	b.ctxErrs = append(b.ctxErrs, ctx.Err())
	if err := ctx.Err(); err != nil {
		return err
	}
	b.sent = append(b.sent, text)
	return nil
}

func TestDispatchCompletesInFlightSendOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	go func() {
		<-sink.started
		cancel()
		close(sink.release)
	}()

	ok, err := NewDispatcher(0, logging.Discard()).Dispatch(ctx, chunksOf("a", "b"), sink)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "chunk 2/2")
	// 第一条在取消之后仍然发送完成，第二条不再开始
	assert.Equal(t, []string{"a"}, sink.sent)
	assert.Equal(t, []error{nil}, sink.ctxErrs)
}

func TestDispatchEmptyIsSuccess(t *testing.T) {
	ok, err := NewDispatcher(time.Second, logging.Discard()).Dispatch(context.Background(), nil, &recordingSink{})
	assert.NoError(t, err)
	assert.True(t, ok)
}
