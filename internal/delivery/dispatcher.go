package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrTransport 某个分片发送失败，整次发送视为失败
var ErrTransport = errors.New("transport failure")

// DefaultSendInterval 连续发送分片之间的间隔，避免触发 Bot API 限流
const DefaultSendInterval = time.Second

// Sink 一个按条发送文本的目标
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher 按顺序逐条发送分片，任一分片失败即停止
type Dispatcher struct {
	interval time.Duration
	log      logrus.FieldLogger
}

func NewDispatcher(interval time.Duration, log logrus.FieldLogger) *Dispatcher {
	if interval < 0 {
		interval = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{interval: interval, log: log}
}

// Dispatch 严格按顺序发送，相邻两次发送之间等待固定间隔。
// ctx 取消后不再开始新的分片，正在发送的分片会完成。
// 仅当所有分片都发送成功时返回 true；首个失败后不再发送后续分片，也不重试。
// 返回的 error 只用于诊断，调用方以 bool 判断成败。
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []Chunk, sink Sink) (bool, error) {
	limit := rate.Inf
	if d.interval > 0 {
		limit = rate.Every(d.interval)
	}
	// burst 为 1：第一条立即发送，之后每条至少间隔 interval
	pacer := rate.NewLimiter(limit, 1)

	for _, ch := range chunks {
		if err := pacer.Wait(ctx); err != nil {
			return d.fail(ch, len(chunks), err)
		}
		if err := safeSend(ctx, sink, ch.Text); err != nil {
			return d.fail(ch, len(chunks), err)
		}
		d.log.WithFields(logrus.Fields{"chunk": ch.Index + 1, "total": len(chunks), "chars": len([]rune(ch.Text))}).
			Debug("chunk sent")
	}

	d.log.WithField("chunks", len(chunks)).Info("dispatch succeeded")
	return true, nil
}

func (d *Dispatcher) fail(ch Chunk, total int, err error) (bool, error) {
	d.log.WithFields(logrus.Fields{"chunk": ch.Index + 1, "total": total}).WithError(err).Error("dispatch failed")
	return false, fmt.Errorf("%w: chunk %d/%d: %v", ErrTransport, ch.Index+1, total, err)
}

// safeSend 已开始的发送不随 ctx 取消而中断，由 Sink 自身的超时兜底
func safeSend(ctx context.Context, sink Sink, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Send(context.WithoutCancel(ctx), text)
}
