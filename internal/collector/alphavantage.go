package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	alphaVantageBaseURL = "https://www.alphavantage.co/query"
	newsSummaryMaxRunes = 200
)

// NewsCollector 通过 Alpha Vantage NEWS_SENTIMENT 接口拉取市场新闻及情绪标签。
// 免费额度很低（25 次/天），限流时接口仍返回 200，只是不带 feed 字段。
type NewsCollector struct {
	APIKey string
	Topic  string
	Limit  int

	BaseURL string
	Client  *http.Client
}

// NewNewsCollector 使用默认主题 financial_markets
func NewNewsCollector(apiKey, topic string, limit int, timeout time.Duration) *NewsCollector {
	if topic == "" {
		topic = "financial_markets"
	}
	return &NewsCollector{
		APIKey: apiKey,
		Topic:  topic,
		Limit:  limit,
		Client: newHTTPClient(timeout),
	}
}

func (n *NewsCollector) Name() string {
	return "alphavantage_news"
}

func (n *NewsCollector) Label() string {
	return LabelNews
}

type avResponse struct {
	// 指针用于区分“缺少 feed”与“feed 为空数组”
	Feed         *[]avFeedItem `json:"feed"`
	Note         string        `json:"Note"`
	Information  string        `json:"Information"`
	ErrorMessage string        `json:"Error Message"`
}

type avFeedItem struct {
	Title                 string  `json:"title"`
	Summary               string  `json:"summary"`
	URL                   string  `json:"url"`
	Source                string  `json:"source"`
	OverallSentimentScore float64 `json:"overall_sentiment_score"`
	OverallSentimentLabel string  `json:"overall_sentiment_label"`
}

func (n *NewsCollector) Collect(ctx context.Context) Result {
	var raw avResponse
	if err := getJSON(ctx, n.client(), n.queryURL(), &raw); err != nil {
		return Failure(fmt.Errorf("alphavantage: %w", err))
	}
	if raw.Feed == nil {
		return Failure(fmt.Errorf("alphavantage: response has no feed: %s", raw.apiMessage()))
	}

	items := *raw.Feed
	if len(items) == 0 {
		return Absent("alphavantage returned an empty feed")
	}
	if limit := n.limit(); len(items) > limit {
		items = items[:limit]
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, formatNewsItem(it))
	}
	return Success(n.Label(), strings.Join(lines, "\n\n"))
}

func (n *NewsCollector) queryURL() string {
	base := n.BaseURL
	if base == "" {
		base = alphaVantageBaseURL
	}
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"topics":   {n.Topic},
		"limit":    {strconv.Itoa(n.limit())},
		"apikey":   {n.APIKey},
	}
	return base + "?" + params.Encode()
}

func (n *NewsCollector) limit() int {
	if n.Limit <= 0 {
		return 5
	}
	return n.Limit
}

func (n *NewsCollector) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return newHTTPClient(0)
}

// apiMessage 提取接口在 200 响应中携带的提示（限流 Note、Information 或错误信息）
func (r avResponse) apiMessage() string {
	for _, m := range []string{r.Note, r.Information, r.ErrorMessage} {
		if m != "" {
			return m
		}
	}
	return "unrecognized payload"
}

// formatNewsItem 输出 "[Bullish] 标题\n摘要前 200 字..."
func formatNewsItem(it avFeedItem) string {
	title := it.Title
	if title == "" {
		title = "No title"
	}
	label := it.OverallSentimentLabel
	if label == "" {
		label = "Neutral"
	}
	return fmt.Sprintf("[%s] %s\n%s...", label, title, truncateRunes(it.Summary, newsSummaryMaxRunes))
}

func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
