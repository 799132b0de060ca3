package collector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable 网络或解析失败，仅影响当前数据源
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSourceEmpty 采集成功但没有可用内容（如非当日消息、空新闻列表）
	ErrSourceEmpty = errors.New("source empty")
)

// 各数据源在汇总文档中的固定标签
const (
	LabelChannel = "텔레그램 채널 시황"
	LabelNews    = "Alpha Vantage 시장 뉴스"
	LabelIndices = "주요 지수 데이터"
)

// Status 单个数据源一次采集的结果类型
type Status int

const (
	StatusSuccess Status = iota
	StatusAbsent
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAbsent:
		return "absent"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fragment 一个数据源归一化后的文本片段
type Fragment struct {
	Label string
	Body  string
}

// Result 采集结果：Success 携带 Fragment，Absent / Failure 携带原因。
// 采集器从不向外抛出 error 或 panic，调用方只需按 Status 分支处理。
type Result struct {
	Status   Status
	Fragment Fragment
	Err      error
}

// Success 构造成功结果；正文为空时降级为 Absent
func Success(label, body string) Result {
	if body == "" {
		return Absent("%s produced no text", label)
	}
	return Result{Status: StatusSuccess, Fragment: Fragment{Label: label, Body: body}}
}

// Absent 构造“无数据”结果，原因包装 ErrSourceEmpty
func Absent(format string, args ...any) Result {
	return Result{Status: StatusAbsent, Err: fmt.Errorf("%w: %s", ErrSourceEmpty, fmt.Sprintf(format, args...))}
}

// Failure 构造失败结果，原因包装 ErrSourceUnavailable
func Failure(err error) Result {
	return Result{Status: StatusFailure, Err: fmt.Errorf("%w: %v", ErrSourceUnavailable, err)}
}

// Collector 抽象每一个数据源
type Collector interface {
	Name() string
	Label() string
	Collect(ctx context.Context) Result
}
