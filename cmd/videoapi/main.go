package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carmelog/videoapi/api"
	"github.com/carmelog/videoapi/capture"
	"github.com/carmelog/videoapi/config"
	"github.com/carmelog/videoapi/metrics"
	"github.com/carmelog/videoapi/pipeline"
	"github.com/carmelog/videoapi/process"
	"github.com/carmelog/videoapi/sink"
)

var version = "dev"

func main() {
	var (
		cfgPath   = flag.String("c", "", "path to parameters.yaml (defaults apply when empty)")
		credsPath = flag.String("creds", "", "path to a .env credentials file")
		playback  = flag.String("p", "", "play back a video file instead of the live source")
		loop      = flag.Bool("loop", false, "restart playback from the first frame at end of file")
		logLevel  = flag.String("log-level", "", "override the configured log level (debug|info|warn|error)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *credsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *playback != "" {
		cfg.Playback.Path = *playback
	}
	if *loop {
		cfg.Playback.Loop = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	src, err := openSource(cfg)
	if err != nil {
		slog.Error("failed to open source", "error", err)
		os.Exit(1)
	}

	open := sink.NewGoCVOpener(sink.Options{
		FourCC: cfg.Recording.FourCC,
		FPS:    cfg.Video.FPS,
	})

	p := pipeline.New(src, open, pipeline.Config{
		BufferSize:          cfg.Video.BufferSize,
		QueueSize:           cfg.Recording.QueueSize,
		Width:               cfg.Video.Width,
		Height:              cfg.Video.Height,
		OutputTemplate:      cfg.Recording.OutputTemplate,
		TargetDuration:      cfg.Recording.TargetDuration(),
		EnableDeduplication: cfg.Recording.EnableDeduplication,
		DedupThreshold:      cfg.Recording.DedupThreshold,
		StartRecording:      cfg.Recording.Enabled,
	}, slog.Default())
	p.SetResize(sink.Resize)
	if cfg.Processing.EnableProcessing {
		p.SetProcessor(process.Luminance{})
	}

	met := metrics.New(p.Snapshot)
	apiSrv := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: api.NewHandler(p, met.Handler(), slog.Default()).Router(),
	}

	slog.Info("videoapi starting",
		"version", version,
		"api", cfg.API.Addr,
		"recording", cfg.Recording.Enabled,
		"playback", cfg.Playback.Path != "",
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.API.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("pipeline error", "error", err)
		os.Exit(1)
	}
}

// openSource picks playback or live capture from the configuration.
func openSource(cfg config.Config) (capture.Source, error) {
	if cfg.Playback.Path != "" {
		return capture.NewFileSource(cfg.Playback.Path, cfg.Video.FPS, cfg.Playback.Loop)
	}
	return capture.NewGoCVSource(cfg.Video.Address)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
