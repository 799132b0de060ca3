package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/LJTian/MarketBrief/internal/pipeline"
	"github.com/LJTian/MarketBrief/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RunStore 运行记录的只读查询
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
	LatestRun(ctx context.Context) (*storage.Run, error)
}

// Trigger 在后台启动一次流水线；已有运行（含定时任务）未结束时同步返回 pipeline.ErrRunInProgress
type Trigger interface {
	Start(ctx context.Context, done func(*pipeline.Report, error)) error
}

type Server struct {
	store   RunStore
	trigger Trigger
	log     logrus.FieldLogger

	wg sync.WaitGroup
}

func NewServer(store RunStore, trigger Trigger, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{store: store, trigger: trigger, log: log}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/summaries", s.listSummaries)
		v1.GET("/summaries/latest", s.latestSummary)
		v1.POST("/runs", s.triggerRun)
	}
}

// Wait 等待手动触发的后台运行结束，用于优雅退出
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listSummaries(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("list runs failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    runs,
	})
}

func (s *Server) latestSummary(c *gin.Context) {
	run, err := s.store.LatestRun(c.Request.Context())
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "no summary yet",
		})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("latest run failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    run,
	})
}

// triggerRun 在后台执行一次流水线，立即返回 202；已有运行未结束时返回 409
func (s *Server) triggerRun(c *gin.Context) {
	s.wg.Add(1)
	// 不使用请求的 context：请求返回后运行仍需继续
	err := s.trigger.Start(context.Background(), func(rep *pipeline.Report, err error) {
		defer s.wg.Done()
		if err != nil {
			s.log.WithError(err).Error("manual run failed")
			return
		}
		s.log.WithFields(logrus.Fields{"run_id": rep.RunID, "delivered": rep.Delivered}).Info("manual run done")
	})
	if err != nil {
		s.wg.Done()
		if errors.Is(err, pipeline.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "run_in_progress",
				"message": err.Error(),
			})
			return
		}
		s.log.WithError(err).Error("start manual run failed")
		internalError(c)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    "accepted",
		"message": "run started",
	})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}
