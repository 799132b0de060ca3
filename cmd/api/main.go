package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/MarketBrief/internal/api"
	"github.com/LJTian/MarketBrief/internal/config"
	"github.com/LJTian/MarketBrief/internal/logging"
	"github.com/LJTian/MarketBrief/internal/pipeline"
	"github.com/LJTian/MarketBrief/internal/scheduler"
	"github.com/LJTian/MarketBrief/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Options{}).Fatalf("load config failed: %v", err)
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	// API 需要数据库保存运行记录
	if cfg.PostgresDSN == "" {
		log.Fatal(&config.MissingConfigError{Key: "POSTGRES_DSN"})
	}
	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.NewFromConfig(ctx, cfg, store, log)
	if err != nil {
		log.Fatalf("init pipeline failed: %v", err)
	}

	s, err := scheduler.New(cfg.CronSpec(), runner, log)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(log))
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(store, runner, log)
	apiServer.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		log.Infof("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exit: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	<-s.Stop().Done()
	apiServer.Wait()
}
