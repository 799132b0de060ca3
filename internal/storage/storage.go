package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	latestRunKey  = "brief:run:latest"
	runListKey    = "brief:runs:%d"
	runListKeys   = "brief:runs:keys"
	runLockKey    = "brief:run:lock"
	listCacheTTL  = 5 * time.Minute
	latestRunTTL  = 24 * time.Hour
	maxSummaryLen = 64 * 1024
)

// ErrNotFound 尚无任何运行记录
var ErrNotFound = errors.New("run not found")

// Run 一次完整流水线的记录：采集结果、摘要以及是否发送成功
type Run struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	StartedAt  time.Time `gorm:"index" json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// 运行日期 YYYY-MM-DD（按配置时区），便于按天查询
	RunDate string `gorm:"size:10;index" json:"runDate"`

	// 每个数据源的状态，如 {"market_indices": {"status": "success", "chars": 210}}
	Sources       datatypes.JSONMap `json:"sources"`
	DocumentChars int               `json:"documentChars"`
	Summary       string            `gorm:"type:text" json:"summary"`
	SummaryFile   string            `gorm:"size:512" json:"summaryFile"`
	Chunks        int               `json:"chunks"`
	Delivered     bool              `json:"delivered"`
	Error         string            `gorm:"size:1024" json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
	// 未配置 Redis 时的进程内缓存与运行锁
	local *gocache.Cache
	log   logrus.FieldLogger
}

// NewStore 连接 Postgres 并可选连接 Redis；redisAddr 为空时不启用缓存
func NewStore(dsn, redisAddr string, log logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis ping failed")
		}
	}

	return NewStoreWith(db, rdb, log)
}

// NewStoreWith 使用已打开的连接（测试中为 sqlite + miniredis）
func NewStoreWith(db *gorm.DB, rdb *redis.Client, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrate runs: %w", err)
	}
	st := &Store{DB: db, Redis: rdb, log: log}
	if rdb == nil {
		st.local = gocache.New(listCacheTTL, 10*time.Minute)
	}
	return st, nil
}

// SaveRun 写入或更新一次运行记录，并刷新 Redis 中的最新记录
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	run.Summary = toValidUTF8(run.Summary)
	if len(run.Summary) > maxSummaryLen {
		run.Summary = strings.ToValidUTF8(run.Summary[:maxSummaryLen], "")
	}
	if len(run.Error) > 1024 {
		run.Error = strings.ToValidUTF8(run.Error[:1024], "")
	}

	if err := s.DB.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if s.Redis != nil {
		if bs, err := json.Marshal(run); err == nil {
			if err := s.Redis.Set(ctx, latestRunKey, bs, latestRunTTL).Err(); err != nil {
				s.log.WithError(err).Warn("cache latest run failed")
			}
		}
		s.invalidateLists(ctx)
		return nil
	}

	for k := range s.local.Items() {
		if strings.HasPrefix(k, "brief:runs:") {
			s.local.Delete(k)
		}
	}
	cached := *run
	s.local.Set(latestRunKey, &cached, latestRunTTL)
	return nil
}

// invalidateLists 删除已登记的列表缓存 key，不做通配符扫描
func (s *Store) invalidateLists(ctx context.Context) {
	keys, err := s.Redis.SMembers(ctx, runListKeys).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	keys = append(keys, runListKeys)
	_ = s.Redis.Del(ctx, keys...).Err()
}

// LatestRun 返回最近一次运行记录，优先读 Redis
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, latestRunKey).Bytes(); err == nil {
			var cached Run
			if err := json.Unmarshal(bs, &cached); err == nil {
				return &cached, nil
			}
		}
	} else if v, ok := s.local.Get(latestRunKey); ok {
		cached := *v.(*Run)
		return &cached, nil
	}

	var run Run
	err := s.DB.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 按时间倒序返回运行记录，结果短暂缓存
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	cacheKey := fmt.Sprintf(runListKey, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Run
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	} else if v, ok := s.local.Get(cacheKey); ok {
		return append([]Run(nil), v.([]Run)...), nil
	}

	var list []Run
	if err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err()
			_ = s.Redis.SAdd(ctx, runListKeys, cacheKey).Err()
		}
	} else if len(list) > 0 {
		s.local.Set(cacheKey, append([]Run(nil), list...), listCacheTTL)
	}
	return list, nil
}

// TryLock 用 SET NX 防止定时任务与手动触发的运行重叠；未启用 Redis 时退化为进程内锁。
// 返回的 unlock 只会删除自己持有的锁。
func (s *Store) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, func(), error) {
	if s.Redis == nil {
		if err := s.local.Add(runLockKey, owner, ttl); err != nil {
			return false, func() {}, nil
		}
		unlock := func() {
			if v, ok := s.local.Get(runLockKey); ok && v == owner {
				s.local.Delete(runLockKey)
			}
		}
		return true, unlock, nil
	}
	ok, err := s.Redis.SetNX(ctx, runLockKey, owner, ttl).Result()
	if err != nil {
		return false, func() {}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return false, func() {}, nil
	}
	unlock := func() {
		// 用独立 context，避免调用方 context 已取消导致锁无法释放
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if v, err := s.Redis.Get(ctx, runLockKey).Result(); err == nil && v == owner {
			_ = s.Redis.Del(ctx, runLockKey).Err()
		}
	}
	return true, unlock, nil
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
