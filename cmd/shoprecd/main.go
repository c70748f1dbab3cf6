package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rushteam/shoprec/config"
	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pipeline"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/rank"
	"github.com/rushteam/shoprec/server"
	"github.com/rushteam/shoprec/store"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径，缺省使用内置默认值")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Mode)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Error("打开数据库失败", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(); err != nil {
		log.Error("建表失败", "err", err)
		os.Exit(1)
	}

	var kv core.KeyValueStore
	if cfg.Redis.Addr != "" {
		kv, err = store.NewRedisKV(cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			log.Error("连接 Redis 失败", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
	} else {
		kv = store.NewMemoryKV()
	}
	defer kv.Close()
	log.Info("缓存后端就绪", "kv", kv.Name())

	runner := &pipeline.Runner{
		Data:         db,
		Personas:     db,
		Recs:         db,
		Metrics:      db,
		KV:           kv,
		Sched:        pipeline.NewScheduler(),
		Log:          log,
		PersonaK:     cfg.Persona.ClusterK,
		ChurnGapDays: cfg.Persona.ChurnGapDays,
		TagRules:     cfg.Persona.TagRules,
		CFNeighbors:  cfg.Baseline.Neighbors,
		CFBatchSize:  cfg.Baseline.BatchSize,
		ArtifactPath: cfg.Rank.ArtifactPath,
		NumTrees:     cfg.Rank.NumTrees,
		Workers:      cfg.Rank.Workers,
		Chunks:       cfg.Rank.Chunks,
		Seed:         cfg.Seed,
	}

	srv := &server.Server{
		Runner:           runner,
		Data:             db,
		Personas:         db,
		Recs:             db,
		Metrics:          db,
		Reader:           &rank.Reader{Recs: db, KV: kv},
		Log:              log,
		DefaultTopN:      cfg.Rank.TopN,
		DefaultThreshold: cfg.Rank.Threshold,
	}

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: srv.Router(cfg.Mode),
	}

	go func() {
		log.Info("HTTP 服务启动", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP 服务异常退出", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号，开始优雅关闭")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("关闭 HTTP 服务失败", "err", err)
	}
}
