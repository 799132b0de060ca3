package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/LJTian/MarketBrief/internal/pipeline"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job 一次可被定时触发的运行
type Job interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

type Scheduler struct {
	cron *cron.Cron
	job  Job
	log  logrus.FieldLogger
}

// New 按 cron 表达式（支持 CRON_TZ= 前缀）注册每日任务
func New(spec string, job Job, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log))))

	s := &Scheduler{
		cron: c,
		job:  job,
		log:  log,
	}

	if _, err := c.AddFunc(spec, func() { s.runOnce(context.Background()) }); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.WithField("next", e.Next.Format(time.RFC3339)).Info("scheduler started")
	}
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Cron 暴露底层 cron 实例，便于追加其它任务
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// RunOnce 对外暴露的单次执行入口，方便手动触发
func (s *Scheduler) RunOnce() {
	s.runOnce(context.Background())
}

// RunOnceContext 同 RunOnce，ctx 取消时运行随之中止
func (s *Scheduler) RunOnceContext(ctx context.Context) {
	s.runOnce(ctx)
}

// runOnce 的错误只记录，不影响后续调度
func (s *Scheduler) runOnce(ctx context.Context) {
	s.log.Info("scheduled market brief run")
	rep, err := s.job.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.log.Warn("skip scheduled run: previous run still in progress")
	case err != nil:
		s.log.WithError(err).Error("scheduled run failed")
	default:
		s.log.WithFields(logrus.Fields{"run_id": rep.RunID, "delivered": rep.Delivered}).Info("scheduled run done")
	}
}
