package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const yahooChartBaseURL = "https://query1.finance.yahoo.com"

// Instrument 一个需要跟踪的指数 / 品种
type Instrument struct {
	Name   string
	Ticker string
}

// DefaultInstruments 固定跟踪的七个品种，顺序即输出顺序
var DefaultInstruments = []Instrument{
	{"Dow Jones", "^DJI"},
	{"NASDAQ", "^IXIC"},
	{"S&P 500", "^GSPC"},
	{"VIX", "^VIX"},
	{"Dollar Index", "DX-Y.NYB"},
	{"WTI Crude Oil", "CL=F"},
	{"10-Year Treasury", "^TNX"},
}

var errTooFewCloses = errors.New("fewer than two closing values")

// IndexCollector 从 Yahoo Finance chart 接口拉取各品种最近两个交易日收盘价并计算涨跌幅。
// 单个品种失败只记录日志，不影响其它品种；全部失败时结果为 Absent。
type IndexCollector struct {
	Instruments []Instrument
	Log         logrus.FieldLogger

	BaseURL string
	Client  *http.Client
}

func NewIndexCollector(timeout time.Duration, log logrus.FieldLogger) *IndexCollector {
	return &IndexCollector{
		Instruments: DefaultInstruments,
		Log:         log,
		Client:      newHTTPClient(timeout),
	}
}

func (i *IndexCollector) Name() string {
	return "market_indices"
}

func (i *IndexCollector) Label() string {
	return LabelIndices
}

// yahooChartResponse 只取收盘价；停牌或未收盘的时段 close 为 null
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (i *IndexCollector) Collect(ctx context.Context) Result {
	instruments := i.Instruments
	if len(instruments) == 0 {
		instruments = DefaultInstruments
	}

	lines := make([]string, 0, len(instruments))
	for _, ins := range instruments {
		line, err := i.snapshot(ctx, ins)
		if err != nil {
			i.logger().WithFields(logrus.Fields{"instrument": ins.Name, "ticker": ins.Ticker}).
				WithError(err).Warn("index snapshot failed")
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return Absent("all %d instruments failed", len(instruments))
	}
	return Success(i.Label(), strings.Join(lines, "\n"))
}

// snapshot 返回 "名称: 最新收盘 (±涨跌幅%)"
func (i *IndexCollector) snapshot(ctx context.Context, ins Instrument) (string, error) {
	closes, err := i.fetchCloses(ctx, ins.Ticker)
	if err != nil {
		return "", err
	}
	if len(closes) < 2 {
		return "", errTooFewCloses
	}
	latest, prev := closes[len(closes)-1], closes[len(closes)-2]
	if prev == 0 {
		return "", fmt.Errorf("previous close is zero")
	}
	changePct := (latest - prev) / prev * 100
	return fmt.Sprintf("%s: %.2f (%+.2f%%)", ins.Name, latest, changePct), nil
}

// fetchCloses 拉取最近几个交易日的日线，返回去掉 null 后的收盘价序列
func (i *IndexCollector) fetchCloses(ctx context.Context, ticker string) ([]float64, error) {
	base := i.BaseURL
	if base == "" {
		base = yahooChartBaseURL
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=5d", strings.TrimSuffix(base, "/"), url.PathEscape(ticker))

	client := i.Client
	if client == nil {
		client = newHTTPClient(0)
	}

	var resp yahooChartResponse
	if err := getJSON(ctx, client, u, &resp); err != nil {
		return nil, err
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo: %s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no data for %s", ticker)
	}

	raw := resp.Chart.Result[0].Indicators.Quote[0].Close
	closes := make([]float64, 0, len(raw))
	for _, c := range raw {
		if c != nil {
			closes = append(closes, *c)
		}
	}
	return closes, nil
}

func (i *IndexCollector) logger() logrus.FieldLogger {
	if i.Log != nil {
		return i.Log
	}
	return logrus.StandardLogger()
}
