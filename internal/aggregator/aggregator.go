package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/MarketBrief/internal/collector"
	"github.com/sirupsen/logrus"
)

// ErrNoData 所有数据源都失败或为空
var ErrNoData = errors.New("no data collected: at least one source is required")

// separator 片段之间的 60 字符分隔线
var separator = strings.Repeat("=", 60)

// Document 一次采集的汇总文档，片段顺序即数据源优先级
type Document struct {
	Fragments []collector.Fragment
}

// String 序列化为 "[标签]\n正文"，片段之间以分隔线隔开
func (d Document) String() string {
	parts := make([]string, 0, len(d.Fragments))
	for _, f := range d.Fragments {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", f.Label, f.Body))
	}
	return strings.Join(parts, "\n\n"+separator+"\n\n")
}

// SourceReport 单个数据源本轮的结果，用于日志与运行记录
type SourceReport struct {
	Source   string        `json:"source"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Chars    int           `json:"chars,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Aggregator 顺序调用各采集器并汇总成功的片段
type Aggregator struct {
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{log: log}
}

// Aggregate 依次执行采集器（不并发），单个数据源的失败只记录不中断；
// 没有任何成功片段时返回 ErrNoData。报告总是覆盖每个已调用的数据源。
func (a *Aggregator) Aggregate(ctx context.Context, collectors []collector.Collector) (Document, []SourceReport, error) {
	var doc Document
	reports := make([]SourceReport, 0, len(collectors))

	for _, c := range collectors {
		start := time.Now()
		res := safeCollect(ctx, c)

		rep := SourceReport{Source: c.Name(), Status: res.Status.String(), Duration: time.Since(start)}
		entry := a.log.WithFields(logrus.Fields{"source": c.Name(), "status": rep.Status})

		switch res.Status {
		case collector.StatusSuccess:
			frag := res.Fragment
			frag.Label = c.Label()
			doc.Fragments = append(doc.Fragments, frag)
			rep.Chars = len([]rune(frag.Body))
			entry.WithField("chars", rep.Chars).Info("source collected")
		case collector.StatusAbsent:
			rep.Reason = errString(res.Err)
			entry.WithField("reason", rep.Reason).Warn("source empty")
		default:
			rep.Reason = errString(res.Err)
			entry.WithField("reason", rep.Reason).Warn("source unavailable")
		}
		reports = append(reports, rep)
	}

	if len(doc.Fragments) == 0 {
		return Document{}, reports, ErrNoData
	}
	return doc, reports, nil
}

// safeCollect 兜底：采集器内部 panic 也转换为 Failure，保证不越过采集边界
func safeCollect(ctx context.Context, c collector.Collector) (res collector.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = collector.Failure(fmt.Errorf("panic in %s: %v", c.Name(), r))
		}
	}()
	return c.Collect(ctx)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
