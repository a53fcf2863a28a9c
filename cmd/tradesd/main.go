package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopherdex.com/internal/api"
	"gopherdex.com/internal/config"
	"gopherdex.com/internal/enrich"
	"gopherdex.com/internal/exchange/client"
	"gopherdex.com/internal/poller"
	"gopherdex.com/internal/trades"
	pkgconfig "gopherdex.com/pkg/config"
	"gopherdex.com/pkg/logger"
	"gopherdex.com/pkg/metrics"
	"gopherdex.com/pkg/safe"
	"gopherdex.com/pkg/trace"
	"gopherdex.com/pkg/xredis"
)

func main() {
	var service string
	flag.StringVar(&service, "config", "tradesd", "配置名 (config/<name>.yaml)")
	flag.Parse()

	var cfg config.Config
	if _, err := pkgconfig.LoadAndWatch(service, &cfg); err != nil {
		log.Fatalf("load config error: %v", err)
	}

	if cfg.Log.File != "" {
		logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	} else {
		logger.Init(cfg.Name, cfg.Log.Level)
	}
	defer logger.Sync()

	metrics.MustRegister()

	// 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Trace.Enabled {
		shutdownTracer, err := trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
		if err != nil {
			logger.Fatal(ctx, "init tracer error", zap.Error(err))
		}
		defer func() {
			// 最多给 5 秒时间 flush trace
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(c); err != nil {
				logger.Error(c, "shutdown tracer error", zap.Error(err))
			}
		}()
	}

	// 状态持久化：优先 redis，没有就落本地文件
	var rdb *redis.Client
	var persist trades.Persister
	switch {
	case cfg.Redis.Enabled:
		rdb = xredis.NewRedis(&xredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		persist = trades.NewRedisPersister(rdb, cfg.State.RedisKey)
	case cfg.State.FilePath != "":
		persist = trades.NewFilePersister(cfg.State.FilePath)
	default:
		logger.Warn(ctx, "no persistence configured, trade state is in-memory only")
	}

	if rdb != nil {
		// redis 连接池水位采样
		safe.GoCtx(ctx, func(ctx context.Context) {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					st := rdb.PoolStats()
					metrics.RedisPoolOpen.Set(float64(st.TotalConns))
					metrics.RedisPoolIdle.Set(float64(st.IdleConns))
					metrics.RedisPoolStale.Set(float64(st.StaleConns))
					metrics.RedisPoolWaitCount.Set(float64(st.WaitCount))
					metrics.RedisPoolWaitDuration.Set(float64(st.WaitDurationNs) / 1e9)
				}
			}
		})
	}

	chain, err := client.New(cfg.Chain.NodeURL, common.HexToAddress(cfg.Chain.ContractAddress))
	if err != nil {
		logger.Fatal(ctx, "connect chain node error", zap.Error(err))
	}

	store := trades.NewStore(ctx, persist)
	enricher := enrich.NewService(chain, enrich.NewTokenCache(chain))

	watched := make([]common.Address, 0, len(cfg.Chain.WatchedAddresses))
	for _, raw := range cfg.Chain.WatchedAddresses {
		if !common.IsHexAddress(raw) {
			logger.Fatal(ctx, "bad watched address in config", zap.String("address", raw))
		}
		watched = append(watched, common.HexToAddress(raw))
	}

	p := poller.New(&poller.Config{
		NetworkID:     cfg.Chain.NetworkID,
		Addresses:     watched,
		Interval:      cfg.Chain.PollInterval,
		MaxBlockRange: cfg.Chain.MaxBlockRange,
	}, chain, enricher, store, rdb)
	safe.GoCtx(ctx, p.Start)

	srv := api.NewRouter(cfg.Addr, api.NewHandler(store, chain, cfg.Chain.NetworkID))
	safe.Go(func() {
		logger.Info(ctx, "http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server error", zap.Error(err))
		}
	})

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown error", zap.Error(err))
	}
	logger.Info(shutdownCtx, "tradesd exit")
}
