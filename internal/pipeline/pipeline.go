package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LJTian/MarketBrief/internal/aggregator"
	"github.com/LJTian/MarketBrief/internal/collector"
	"github.com/LJTian/MarketBrief/internal/config"
	"github.com/LJTian/MarketBrief/internal/delivery"
	"github.com/LJTian/MarketBrief/internal/storage"
	"github.com/LJTian/MarketBrief/internal/summarizer"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// ErrRunInProgress 已有一次运行尚未结束
var ErrRunInProgress = errors.New("a run is already in progress")

const runLockTTL = 30 * time.Minute

// Recorder 持久化运行记录；为 nil 时只写本地文件
type Recorder interface {
	SaveRun(ctx context.Context, run *storage.Run) error
	TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, func(), error)
}

// Report 一次运行的结果汇总
type Report struct {
	RunID       string
	Sources     []aggregator.SourceReport
	Document    string
	Summary     string
	SummaryFile string
	Chunks      int
	Delivered   bool
}

// Deps 流水线依赖；Summarizer / Sink 为 nil 表示对应凭据未配置
type Deps struct {
	Collectors []collector.Collector
	Summarizer summarizer.Summarizer
	Sink       delivery.Sink
	Recorder   Recorder
	Log        logrus.FieldLogger
	Now        func() time.Time
}

// Runner 串行执行：采集 → 汇总 → 摘要 → 本地保存 → 分片发送
type Runner struct {
	cfg        *config.Config
	collectors []collector.Collector
	aggregator *aggregator.Aggregator
	summarizer summarizer.Summarizer
	sink       delivery.Sink
	dispatcher *delivery.Dispatcher
	recorder   Recorder
	log        logrus.FieldLogger
	now        func() time.Time

	mu sync.Mutex
}

func New(cfg *config.Config, deps Deps) *Runner {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		cfg:        cfg,
		collectors: deps.Collectors,
		aggregator: aggregator.New(log),
		summarizer: deps.Summarizer,
		sink:       deps.Sink,
		dispatcher: delivery.NewDispatcher(cfg.SendInterval, log),
		recorder:   deps.Recorder,
		log:        log,
		now:        now,
	}
}

// NewFromConfig 按配置构建全部依赖：未配置的数据源不启用，
// 缺少 Gemini / Bot 凭据时对应依赖为 nil，在运行到该步骤时报告 MissingConfigError。
func NewFromConfig(ctx context.Context, cfg *config.Config, recorder Recorder, log logrus.FieldLogger) (*Runner, error) {
	deps := Deps{
		Collectors: collector.FromConfig(cfg, log),
		Recorder:   recorder,
		Log:        log,
	}

	if cfg.RequireSummarizer() == nil {
		g, err := summarizer.NewGemini(ctx, summarizer.GeminiOptions{
			APIKey:   cfg.GeminiAPIKey,
			Model:    cfg.GeminiModel,
			Detailed: cfg.UseDetailedFormat,
			Location: cfg.Location,
		})
		if err != nil {
			return nil, err
		}
		deps.Summarizer = g
	}
	if cfg.RequireDelivery() == nil {
		deps.Sink = delivery.NewTelegramBot(cfg.BotToken, cfg.ChatID, cfg.HTTPTimeout)
	}

	return New(cfg, deps), nil
}

// Run 执行一次完整流水线。
// 数据源全部失败返回 aggregator.ErrNoData；缺少凭据返回 config.MissingConfigError；
// 发送失败返回包装 delivery.ErrTransport 的错误。摘要在发送之前已保存到本地。
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep, release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.execute(ctx, rep)
}

// Start 在后台执行一次运行。已有运行未结束时同步返回 ErrRunInProgress；
// 运行结束且锁已释放后调用 done。
func (r *Runner) Start(ctx context.Context, done func(*Report, error)) error {
	rep, release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	go func() {
		rep, err := r.execute(ctx, rep)
		release()
		if done != nil {
			done(rep, err)
		}
	}()
	return nil
}

// acquire 依次获取进程内锁与记录器的分布式锁
func (r *Runner) acquire(ctx context.Context) (*Report, func(), error) {
	if !r.mu.TryLock() {
		return nil, nil, ErrRunInProgress
	}

	rep := &Report{RunID: uuid.NewString()}
	unlock := func() {}
	if r.recorder != nil {
		ok, u, err := r.recorder.TryLock(ctx, rep.RunID, runLockTTL)
		switch {
		case err != nil:
			r.log.WithField("run_id", rep.RunID).WithError(err).Warn("run lock unavailable, continuing without it")
		case !ok:
			r.mu.Unlock()
			return nil, nil, ErrRunInProgress
		}
		if u != nil {
			unlock = u
		}
	}

	return rep, func() {
		unlock()
		r.mu.Unlock()
	}, nil
}

func (r *Runner) execute(ctx context.Context, rep *Report) (*Report, error) {
	log := r.log.WithField("run_id", rep.RunID)
	started := r.now()
	log.Info("market brief run started")

	err := r.run(ctx, rep, log)

	r.record(ctx, rep, started, err, log)
	if err != nil {
		log.WithError(err).Error("market brief run failed")
		return rep, err
	}
	log.WithFields(logrus.Fields{"chunks": rep.Chunks}).Info("market brief run finished")
	return rep, nil
}

func (r *Runner) run(ctx context.Context, rep *Report, log logrus.FieldLogger) error {
	log.WithField("sources", len(r.collectors)).Info("[1/3] collecting market data")
	doc, sources, err := r.aggregator.Aggregate(ctx, r.collectors)
	rep.Sources = sources
	if err != nil {
		return err
	}
	rep.Document = doc.String()
	log.WithField("chars", len([]rune(rep.Document))).Info("collection done")

	log.Info("[2/3] generating summary")
	if r.summarizer == nil {
		return &config.MissingConfigError{Key: "GEMINI_API_KEY"}
	}
	summary, err := r.summarizer.Summarize(ctx, rep.Document)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	rep.Summary = summary

	// 发送之前先落盘，发送失败也不会丢失摘要
	path, err := storage.SaveSummaryFile(r.cfg.OutputDir, r.now().In(r.location()), summary)
	if err != nil {
		log.WithError(err).Warn("save summary file failed")
	} else {
		rep.SummaryFile = path
		log.WithField("file", path).Info("summary saved")
	}

	log.Info("[3/3] delivering summary")
	if r.sink == nil {
		if err := r.cfg.RequireDelivery(); err != nil {
			return err
		}
		return &config.MissingConfigError{Key: "TELEGRAM_BOT_TOKEN"}
	}

	chunks := delivery.Split(summary, delivery.MaxChunkSize)
	rep.Chunks = len(chunks)
	if len(chunks) > 1 {
		log.WithFields(logrus.Fields{"chars": len([]rune(summary)), "chunks": len(chunks)}).Info("summary exceeds message limit, splitting")
	}
	ok, err := r.dispatcher.Dispatch(ctx, chunks, r.sink)
	rep.Delivered = ok
	if !ok {
		return err
	}
	return nil
}

func (r *Runner) record(ctx context.Context, rep *Report, started time.Time, runErr error, log logrus.FieldLogger) {
	if r.recorder == nil {
		return
	}

	sources := datatypes.JSONMap{}
	for _, s := range rep.Sources {
		entry := map[string]any{"status": s.Status, "duration_ms": s.Duration.Milliseconds()}
		if s.Reason != "" {
			entry["reason"] = s.Reason
		}
		if s.Chars > 0 {
			entry["chars"] = s.Chars
		}
		sources[s.Source] = entry
	}

	run := &storage.Run{
		ID:            rep.RunID,
		StartedAt:     started,
		FinishedAt:    r.now(),
		RunDate:       started.In(r.location()).Format("2006-01-02"),
		Sources:       sources,
		DocumentChars: len([]rune(rep.Document)),
		Summary:       rep.Summary,
		SummaryFile:   rep.SummaryFile,
		Chunks:        rep.Chunks,
		Delivered:     rep.Delivered,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// 调用方 context 可能已取消，记录仍需写入
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.recorder.SaveRun(saveCtx, run); err != nil {
		log.WithError(err).Warn("save run record failed")
	}
}

func (r *Runner) location() *time.Location {
	if r.cfg.Location != nil {
		return r.cfg.Location
	}
	return time.Local
}
