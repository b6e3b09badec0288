package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/chenBenjamin97/pose-tracker/pkg/api"
	"github.com/chenBenjamin97/pose-tracker/pkg/config"
	"github.com/chenBenjamin97/pose-tracker/pkg/detect"
	"github.com/chenBenjamin97/pose-tracker/pkg/detect/dnn"
	"github.com/chenBenjamin97/pose-tracker/pkg/i18n"
	"github.com/chenBenjamin97/pose-tracker/pkg/logging"
	"github.com/chenBenjamin97/pose-tracker/pkg/utils"
	"github.com/chenBenjamin97/pose-tracker/pkg/video"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path of the configuration file (default ./config.yaml)")
	tracePath := flag.String("trace", "", "trace the pose through given video file and exit")
	outPath := flag.String("out", "", "trace output file (default <ready directory>/<video name>.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		hclog.Default().Error("could not load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, nil)

	//first - create project's data directories
	if err := utils.EnsureDirs(cfg.Dirs()...); err != nil {
		logger.Error("could not create data directories", "error", err)
		os.Exit(1)
	}

	detector := newDetector(cfg, logger)
	defer detector.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *tracePath != "" {
		if err := runTrace(ctx, cfg, detector, *tracePath, *outPath, logger); err != nil {
			logger.Error("trace failed", "video", *tracePath, "error", err)
			stop()
			detector.Close()
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, detector, logger); err != nil {
		logger.Error("server failed", "error", err)
		stop()
		detector.Close()
		os.Exit(1)
	}
}

func newDetector(cfg *config.Config, logger hclog.Logger) *detect.Detector {
	var factory detect.Factory
	switch cfg.Detector.Backend {
	case detect.BackendMediapipe:
		factory = detect.NewProcessFactory(cfg.ProcessOptions(), logger.Named("worker"))
	default:
		factory = dnn.NewFactory()
	}

	return detect.NewDetector(factory, cfg.DetectorOptions(),
		detect.WithInitTimeout(cfg.Detector.InitTimeout),
		detect.WithLogger(logger.Named("detector")),
		detect.WithEnvironmentCheck(func() error {
			return detect.CheckEnvironment(cfg.Detector.Backend, cfg.DetectorOptions(), cfg.ProcessOptions())
		}),
	)
}

func runTrace(ctx context.Context, cfg *config.Config, detector *detect.Detector, srcPath, outPath string, logger hclog.Logger) error {
	if outPath == "" {
		outPath = filepath.Join(cfg.Directory.Ready, utils.TrimExt(filepath.Base(srcPath))+".json")
	}

	start := time.Now()
	if err := video.Trace(ctx, detector, srcPath, outPath, video.TraceOptions{Progress: os.Stderr, Logger: logger.Named("trace")}); err != nil {
		return err
	}
	logger.Info("trace written", "path", outPath, "took", time.Since(start).Round(time.Millisecond))

	return nil
}

func serve(ctx context.Context, cfg *config.Config, detector *detect.Detector, logger hclog.Logger) error {
	if err := detector.Supported(); err != nil {
		logger.Warn("pose detection is not available on this host", "error", err)
	}

	translator, err := i18n.New()
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg, detector, translator, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.SetRouter(srv),
	}

	errC := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		errC <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
