package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"web-content-analyzer/internal/config"
	"web-content-analyzer/internal/metrics"
	"web-content-analyzer/internal/pipeline"
	"web-content-analyzer/internal/sanitizer"
	"web-content-analyzer/pkg/logger"
)

const (
	// requestTimeout covers every fetch attempt plus the analysis call.
	requestTimeout = 2 * time.Minute
	// batchTimeout bounds a whole batch; WriteTimeout leaves room to encode it.
	batchTimeout = 4 * time.Minute
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.New().Errorf("load config: %v", err)
		os.Exit(1)
	}
	l := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	m := metrics.New()
	svc, err := pipeline.Build(cfg, m, l)
	if err != nil {
		l.Errorf("build pipeline: %v", err)
		os.Exit(1)
	}

	s := &server{
		svc:          svc,
		sanitizer:    sanitizer.New(),
		metrics:      m.Handler(),
		log:          l,
		timeout:      requestTimeout,
		batchTimeout: batchTimeout,
		concurrency:  cfg.Batch.Concurrency,
		maxURLs:      cfg.Batch.MaxURLs,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: batchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		l.Infof("server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			l.Errorf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	l.Infof("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	l.Infof("bye")
}
