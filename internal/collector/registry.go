package collector

import (
	"github.com/LJTian/MarketBrief/internal/config"
	"github.com/sirupsen/logrus"
)

// FromConfig 按固定优先级（频道 → 新闻 → 指数）构建已启用的采集器。
// 缺少频道名或 API Key 的数据源直接不启用，不视为错误。
func FromConfig(cfg *config.Config, log logrus.FieldLogger) []Collector {
	var out []Collector
	if cfg.TelegramChannel != "" {
		out = append(out, &ChannelCollector{
			Channel:   cfg.TelegramChannel,
			DayFilter: cfg.TelegramDayFilter,
			Location:  cfg.Location,
			Timeout:   cfg.HTTPTimeout,
		})
	}
	if cfg.AlphaVantageKey != "" {
		out = append(out, NewNewsCollector(cfg.AlphaVantageKey, cfg.NewsTopic, cfg.NewsLimit, cfg.HTTPTimeout))
	}
	if cfg.IndicesEnabled {
		out = append(out, NewIndexCollector(cfg.HTTPTimeout, log))
	}
	return out
}
