package main

import (
	// stdlib
	"context"
	"flag"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/enums"
	"github.com/Robogera/handflow/pkg/indexed"
	"github.com/Robogera/handflow/pkg/session"
	"github.com/Robogera/handflow/pkg/synapse"
	"github.com/Robogera/handflow/pkg/track"

	// external
	"github.com/lmittmann/tint"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

const (
	default_cfg_path string = "../cfg/config.default.toml"
	// positions kept for the drawn trail
	trajectory_len int = 32
)

var cfg_path string
var exe_dir string
var create_default bool

func init() {
	var err error

	exe_dir, err = config.ExecutableDir()
	if err != nil {
		slog.Error("Can't find the executable's location", "error", err)
		return
	}

	flag.StringVar(
		&cfg_path, "config",
		default_cfg_path,
		"Path to config file")
	flag.BoolVar(
		&create_default, "create-default",
		false,
		"Write the default config to the -config path and exit")
}

func main() {

	// Configuration init

	flag.Parse()

	if create_default {
		if err := config.CreateDefault(cfg_path); err != nil {
			slog.Error("Can't write default config", "path", cfg_path, "error", err)
			os.Exit(1)
		}
		slog.Info("Default config written", "path", cfg_path)
		return
	}

	cfg, err := config.Unmarshal(cfg_path)
	if err != nil {
		slog.Error("Config file not loaded. Shutting down...", "provided path", cfg_path, "error", err)
		os.Exit(1)
	}
	cfg.ResolvePaths(exe_dir)

	var log_level slog.Level

	switch level := enums.LoggingLevels.Parse(cfg.Logging.Level); {
	case level == nil:
		slog.Warn(
			"No valid logging level provided. Defaulting to LevelError",
			"provided value", cfg.Logging.Level)
		log_level = slog.LevelError
	case *level == enums.LoggingLevelDebug:
		log_level = slog.LevelDebug
	case *level == enums.LoggingLevelInfo:
		log_level = slog.LevelInfo
	case *level == enums.LoggingLevelWarn:
		log_level = slog.LevelWarn
	default:
		log_level = slog.LevelError
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      log_level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))

	logger.Info("Starting...", "variant", cfg.Pipeline.Variant, "inputs", len(cfg.Input))

	frame_size := image.Pt(int(cfg.Frame.Width), int(cfg.Frame.Height))

	registry := session.NewRegistry(
		logger,
		func(l *slog.Logger) (*track.Pipeline, error) {
			return track.Build(l, cfg, frame_size)
		},
		trajectory_len,
		cfg.Logging.StatWindow)
	defer func() {
		if err := registry.CloseAll(); err != nil {
			logger.Error("Can't close sessions", "error", err)
		}
	}()

	// every input gets its own pipeline
	sessions := make([]*session.Session, 0, len(cfg.Input))
	for _, input := range cfg.Input {
		s, err := registry.Open(input.Name)
		if err != nil {
			logger.Error("Can't open session. Shutting down...", "input", input.Name, "error", err)
			return
		}
		sessions = append(sessions, s)
	}

	ctx := context.Background()
	eg, child_ctx := errgroup.WithContext(ctx)

	inputs := len(cfg.Input)
	sinks := Sinks{}

	if cfg.Webserver.Enabled {
		web_chan := make(chan indexed.Indexed[ProcessedFrame], inputs*8)
		sinks.web = web_chan
		eg.Go(func() error {
			return webplayer(child_ctx, logger, cfg, web_chan)
		})
	}

	if cfg.Recorder.Enabled {
		rec_chan := make(chan indexed.Indexed[ProcessedFrame], inputs*4)
		sinks.recorder = rec_chan
		eg.Go(func() error {
			return recorder(child_ctx, logger, cfg, rec_chan)
		})
	}

	if cfg.MQTT.Enabled {
		mqtt_chan := make(chan indexed.Indexed[*synapse.Message], inputs*4)
		sinks.messages = mqtt_chan
		eg.Go(func() error {
			return mqttclient(child_ctx, logger, cfg, mqtt_chan)
		})
	}

	stats_chan := make(chan Statistics, inputs*4)
	sinks.stats = stats_chan
	eg.Go(func() error {
		return stat(child_ctx, logger, stats_chan, cfg.Logging.StatPeriodSec, cfg.Logging.StatWindow)
	})

	for i, input := range cfg.Input {
		s := sessions[i]
		mat_chan := make(chan indexed.Indexed[gocv.Mat], 2)

		eg.Go(func() error {
			return streamreader(child_ctx, s.Logger(), input, frame_size, mat_chan)
		})
		eg.Go(func() error {
			return processor(child_ctx, s, cfg, mat_chan, sinks)
		})
	}

	eg.Go(func() error {
		return control(child_ctx, logger)
	})

	err = eg.Wait()

	logger.Info("Stopped", "reason", err)
}

func control(ctx context.Context, logger *slog.Logger) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGINT)

	select {
	case <-ctx.Done():
		logger.Info("Control cancelled by context")
		return context.Canceled
	case <-interrupt:
		logger.Info("Cancelled by user")
		return ERR_INTERRUPTED_BY_USER
	}
}
