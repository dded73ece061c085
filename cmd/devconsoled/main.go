// Command devconsoled runs the DevConsole broker: the central process
// peers connect to in order to open channels, publish, and subscribe.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	_ "go.uber.org/automaxprocs"

	brokerpkg "github.com/devconsole/devconsole/internal/broker"
	"github.com/devconsole/devconsole/internal/config"
	"github.com/devconsole/devconsole/internal/httpapi"
	"github.com/devconsole/devconsole/internal/logging"
	"github.com/devconsole/devconsole/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	b := brokerpkg.New(logger, m)
	go b.Run()

	startedAt := time.Now()

	limiter := rate.NewLimiter(rate.Limit(cfg.Server.AcceptRatePerSec), cfg.Server.AcceptBurst)
	wsHandler := brokerpkg.ServeWS(b, logger)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, rateLimited(limiter, logger, wsHandler))

	eventServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var adminServer *http.Server
	if cfg.Metrics.Enabled {
		adminServer = &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: httpapi.New(b, reg, startedAt),
		}
	}

	go func() {
		logger.Info("event-bus listener starting", zap.String("addr", cfg.Server.ListenAddr))
		if err := eventServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("event-bus listener failed", zap.Error(err))
		}
	}()

	if adminServer != nil {
		go func() {
			logger.Info("admin http listener starting", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin http listener failed", zap.Error(err))
			}
		}()
	}

	waitForShutdown(logger, eventServer, adminServer, b)
}

func rateLimited(limiter *rate.Limiter, logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn("connection admission rejected, rate limit exceeded", zap.String("remote", r.RemoteAddr))
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func waitForShutdown(logger *zap.Logger, eventServer, adminServer *http.Server, b *brokerpkg.Broker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = eventServer.Shutdown(ctx)
	if adminServer != nil {
		_ = adminServer.Shutdown(ctx)
	}
	b.Shutdown()

	logger.Info("shutdown complete")
}
