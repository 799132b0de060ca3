package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
)

const (
	telegramWebBaseURL   = "https://t.me/s/"
	telegramMessageBlock = "div.tgme_widget_message_text"
	// 频道消息中的日期写法，例如 "2026년 10월 19일"
	koreanDateLayout = "2006년 01월 02일"
)

// ChannelCollector 通过公开网页版 t.me/s/<channel> 抓取频道最新一条消息。
// DayFilter 开启时，只有正文包含当天日期（按 Location 计算）的消息才会被采纳。
type ChannelCollector struct {
	Channel   string
	DayFilter bool
	Location  *time.Location
	Timeout   time.Duration

	// BaseURL 与 Now 仅用于测试替换
	BaseURL string
	Now     func() time.Time
}

func (c *ChannelCollector) Name() string {
	return "telegram_channel"
}

func (c *ChannelCollector) Label() string {
	return LabelChannel
}

func (c *ChannelCollector) Collect(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Failure(err)
	}

	text, err := c.latestMessage(ctx)
	if err != nil {
		return Failure(err)
	}
	if text == "" {
		return Absent("channel %s has no message blocks", c.Channel)
	}

	if c.DayFilter {
		today := c.now().In(c.location()).Format(koreanDateLayout)
		if !strings.Contains(text, today) {
			return Absent("latest message of %s is not dated %s", c.Channel, today)
		}
	}

	return Success(c.Label(), text)
}

// latestMessage 返回页面上最后一个消息块（即最新消息）的文本；没有消息块时返回空串
func (c *ChannelCollector) latestMessage(ctx context.Context) (string, error) {
	col := colly.NewCollector(colly.UserAgent(browserUserAgent))
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	col.SetRequestTimeout(timeout)
	col.WithTransport(&contextTransport{ctx: ctx, base: http.DefaultTransport})

	var blocks []string
	col.OnHTML(telegramMessageBlock, func(e *colly.HTMLElement) {
		if t := messageText(e.DOM); t != "" {
			blocks = append(blocks, t)
		}
	})

	if err := col.Visit(c.pageURL()); err != nil {
		return "", fmt.Errorf("telegram channel %s: %w", c.Channel, err)
	}
	if len(blocks) == 0 {
		return "", nil
	}
	return blocks[len(blocks)-1], nil
}

// contextTransport 让 colly 发出的请求随 ctx 取消而中止。
// 请求自身的 context 携带客户端超时，需要保留，所以这里派生而不是替换。
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(t.ctx, cancel)
	context.AfterFunc(ctx, func() { stop() })
	return t.base.RoundTrip(req.WithContext(ctx))
}

func (c *ChannelCollector) pageURL() string {
	base := c.BaseURL
	if base == "" {
		base = telegramWebBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + c.Channel
}

func (c *ChannelCollector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *ChannelCollector) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

// messageText 按文档顺序收集元素内所有非空文本节点，去掉首尾空白后以换行拼接。
// <br> 分隔的行、<a>/<b> 等内联元素都会各自成为一段。
func messageText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}
