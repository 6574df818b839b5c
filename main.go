// Command chatgrep searches the chat of VODs, clips and comment sections.
// It:
//   - Loads configuration from the environment (and .env) and initializes
//     structured logging on stderr, leaving stdout to results.
//   - Registers Prometheus metrics and, when OTEL_EXPORTER_OTLP_ENDPOINT is
//     set, OpenTelemetry tracing.
//   - Runs the command line (see package cli).
//
// SIGINT/SIGTERM cancel in-flight requests; output already produced stays.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatgrep/cli"
	"github.com/onnwee/chatgrep/config"
	"github.com/onnwee/chatgrep/telemetry"
)

func main() {
	// Load .env file if present (local convenience only)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=warn, format=text.
	lvl := slog.LevelWarn
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	case "warn", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using warn", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdown, err := telemetry.InitTracing("chatgrep", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = cli.Execute(ctx, cfg)
	stop()
	shutdown()
	if err != nil {
		slog.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}
