package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingConfig 某个必需步骤缺少凭据或目标标识
var ErrMissingConfig = errors.New("missing configuration")

// MissingConfigError 指明缺少的配置项
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing configuration: %s is not set", e.Key)
}

func (e *MissingConfigError) Unwrap() error { return ErrMissingConfig }

type Config struct {
	AppPort       string `validate:"required,numeric"`
	BasicAuthUser string
	BasicAuthPass string

	// 可选：为空时不启用数据库 / Redis
	PostgresDSN string
	RedisAddr   string

	// 数据源：为空即视为关闭该数据源
	TelegramChannel   string
	TelegramDayFilter bool
	AlphaVantageKey   string
	NewsTopic         string
	NewsLimit         int `validate:"min=1,max=1000"`
	IndicesEnabled    bool

	GeminiAPIKey      string
	GeminiModel       string
	UseDetailedFormat bool

	BotToken string
	ChatID   int64

	Timezone string
	Location *time.Location
	RunTime  string

	HTTPTimeout  time.Duration
	SendInterval time.Duration
	OutputDir    string `validate:"required"`

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"omitempty,oneof=text json"`
	LogFile   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "9000")
	v.SetDefault("timezone", "Asia/Seoul")
	v.SetDefault("auto_run_time", "07:00")
	v.SetDefault("telegram_day_filter", false)
	v.SetDefault("alpha_vantage_topic", "financial_markets")
	v.SetDefault("news_limit", 5)
	v.SetDefault("indices_enabled", true)
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("use_detailed_format", false)
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("send_interval", "1s")
	v.SetDefault("output_dir", "output")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load 先读取 .env（不存在则忽略），再从环境变量加载配置。
// 所有可选项在这里一次性确定，后续调用方不再探测单个配置是否存在。
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		AppPort:           v.GetString("app_port"),
		BasicAuthUser:     v.GetString("app_basic_user"),
		BasicAuthPass:     v.GetString("app_basic_pass"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		RedisAddr:         v.GetString("redis_addr"),
		TelegramChannel:   strings.TrimPrefix(strings.TrimSpace(v.GetString("telegram_channel_username")), "@"),
		TelegramDayFilter: v.GetBool("telegram_day_filter"),
		AlphaVantageKey:   strings.TrimSpace(v.GetString("alpha_vantage_api_key")),
		NewsTopic:         v.GetString("alpha_vantage_topic"),
		NewsLimit:         v.GetInt("news_limit"),
		IndicesEnabled:    v.GetBool("indices_enabled"),
		GeminiAPIKey:      strings.TrimSpace(v.GetString("gemini_api_key")),
		GeminiModel:       v.GetString("gemini_model"),
		UseDetailedFormat: v.GetBool("use_detailed_format"),
		BotToken:          strings.TrimSpace(v.GetString("telegram_bot_token")),
		Timezone:          v.GetString("timezone"),
		RunTime:           v.GetString("auto_run_time"),
		HTTPTimeout:       v.GetDuration("http_timeout"),
		SendInterval:      v.GetDuration("send_interval"),
		OutputDir:         v.GetString("output_dir"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		LogFile:           v.GetString("log_file"),
	}

	if raw := strings.TrimSpace(v.GetString("telegram_send_to_chat_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TELEGRAM_SEND_TO_CHAT_ID must be numeric: %w", err)
		}
		cfg.ChatID = id
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if _, _, err := parseRunTime(cfg.RunTime); err != nil {
		return nil, err
	}
	if cfg.NewsLimit <= 0 {
		cfg.NewsLimit = 5
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.SendInterval < 0 {
		cfg.SendInterval = 0
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// CronSpec 将 AUTO_RUN_TIME（HH:MM）转换为带时区的每日 cron 表达式
func (c *Config) CronSpec() string {
	h, m, err := parseRunTime(c.RunTime)
	if err != nil {
		h, m = 7, 0
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", c.Timezone, m, h)
}

// RequireSummarizer 在生成摘要之前检查 Gemini 凭据
func (c *Config) RequireSummarizer() error {
	if c.GeminiAPIKey == "" {
		return &MissingConfigError{Key: "GEMINI_API_KEY"}
	}
	return nil
}

// RequireDelivery 在发送之前检查机器人凭据与目标会话
func (c *Config) RequireDelivery() error {
	if c.BotToken == "" {
		return &MissingConfigError{Key: "TELEGRAM_BOT_TOKEN"}
	}
	if c.ChatID == 0 {
		return &MissingConfigError{Key: "TELEGRAM_SEND_TO_CHAT_ID"}
	}
	return nil
}

func parseRunTime(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("config: AUTO_RUN_TIME must be HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
