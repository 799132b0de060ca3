package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelPage(messages ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><section class=\"tgme_channel_history\">")
	for _, m := range messages {
		b.WriteString(`<div class="tgme_widget_message_wrap"><div class="tgme_widget_message_text js-message_text" dir="auto">`)
		b.WriteString(m)
		b.WriteString("</div></div>")
	}
	b.WriteString("</section></body></html>")
	return b.String()
}

func newChannelServer(t *testing.T, status int, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/s/marketdesk" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seoulClock(t *testing.T, y int, m time.Month, d int) (*time.Location, func() time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	now := time.Date(y, m, d, 7, 0, 0, 0, loc)
	return loc, func() time.Time { return now }
}

func TestMessageTextJoinsTextNodes(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div class="tgme_widget_message_text">  첫째 줄 <br/>둘째 <b>강조</b> 끝<br><a href="#">링크</a></div>`))
	require.NoError(t, err)

	got := messageText(doc.Find(telegramMessageBlock))
	assert.Equal(t, "첫째 줄\n둘째\n강조\n끝\n링크", got)
}

func TestChannelCollectorTakesLatestMessage(t *testing.T) {
	srv := newChannelServer(t, http.StatusOK, channelPage("어제 시황", "오늘 시황...<br/>코스피 상승"))
	c := &ChannelCollector{Channel: "marketdesk", BaseURL: srv.URL + "/s/"}

	res := c.Collect(context.Background())
	require.Equal(t, StatusSuccess, res.Status, "err: %v", res.Err)
	assert.Equal(t, LabelChannel, res.Fragment.Label)
	assert.Equal(t, "오늘 시황...\n코스피 상승", res.Fragment.Body)
}

func TestChannelCollectorNoBlocksIsAbsent(t *testing.T) {
	srv := newChannelServer(t, http.StatusOK, channelPage())
	c := &ChannelCollector{Channel: "marketdesk", BaseURL: srv.URL + "/s/"}

	res := c.Collect(context.Background())
	assert.Equal(t, StatusAbsent, res.Status)
	assert.True(t, errors.Is(res.Err, ErrSourceEmpty))
}

func TestChannelCollectorTransportErrorIsFailure(t *testing.T) {
	srv := newChannelServer(t, http.StatusInternalServerError, "boom")
	c := &ChannelCollector{Channel: "marketdesk", BaseURL: srv.URL + "/s/", Timeout: time.Second}

	res := c.Collect(context.Background())
	assert.Equal(t, StatusFailure, res.Status)
	assert.True(t, errors.Is(res.Err, ErrSourceUnavailable))
}

func TestChannelCollectorDayFilter(t *testing.T) {
	loc, now := seoulClock(t, 2026, time.October, 19)

	today := newChannelServer(t, http.StatusOK, channelPage("2026년 10월 19일 마감시황<br/>오늘 시황..."))
	c := &ChannelCollector{Channel: "marketdesk", BaseURL: today.URL + "/s/", DayFilter: true, Location: loc, Now: now}
	res := c.Collect(context.Background())
	require.Equal(t, StatusSuccess, res.Status, "err: %v", res.Err)
	assert.Contains(t, res.Fragment.Body, "2026년 10월 19일")

	stale := newChannelServer(t, http.StatusOK, channelPage("2026년 10월 18일 마감시황"))
	c = &ChannelCollector{Channel: "marketdesk", BaseURL: stale.URL + "/s/", DayFilter: true, Location: loc, Now: now}
	res = c.Collect(context.Background())
	assert.Equal(t, StatusAbsent, res.Status)
	assert.True(t, errors.Is(res.Err, ErrSourceEmpty))
}

func TestChannelCollectorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &ChannelCollector{Channel: "marketdesk", BaseURL: "http://127.0.0.1:1/s/"}
	res := c.Collect(ctx)
	assert.Equal(t, StatusFailure, res.Status)
}

func TestChannelCollectorCanceledDuringScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	c := &ChannelCollector{Channel: "marketdesk", BaseURL: srv.URL + "/s/", Timeout: 10 * time.Second}
	start := time.Now()
	res := c.Collect(ctx)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}
