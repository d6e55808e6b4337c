package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teilomillet/promptscore/config"
	"github.com/teilomillet/promptscore/server"
)

const defaultConfigFile = "promptscore.yaml"

var (
	configFile = flag.String("config", defaultConfigFile, "Path to configuration file")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.3.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("promptscore %s\n", Version)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, fromFile, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Just validate and exit if requested
	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.Logging, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, fromFile, logger, &level); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func run(cfg *config.Config, fromFile bool, logger *zap.Logger, level *zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := server.Options{Logger: logger, Level: level}
	if fromFile {
		watcher, err := config.NewConfigWatcher(*configFile, logger.Named("config"))
		if err != nil {
			return err
		}
		defer watcher.Close()
		opts.Watcher = watcher
	}

	srv, err := server.New(ctx, cfg, opts)
	if err != nil {
		return err
	}

	logger.Info("Starting promptscore",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	return srv.Start(ctx)
}

// loadConfig reads path. A missing default file falls back to the built-in
// defaults so the server can run from environment variables alone.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.LoadFile(path)
	if err == nil {
		return cfg, true, nil
	}
	if path == defaultConfigFile && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Load(strings.NewReader(""))
		return cfg, false, err
	}
	return nil, false, err
}

// newLogger builds a JSON production logger or, for the "text" format, a
// console development logger, both gated by level.
func newLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	level.SetLevel(lvl)

	zc := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
