package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spigotdb/spigot/internal/config"
	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/storage"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the state directory from the --data-dir flag,
// SPIGOT_DATA_DIR env var, or ~/.spigot as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("SPIGOT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".spigot")
}

// loadConfig reads the YAML config named by --config (or the viper search
// path) and applies defaults for anything unset.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		if _, err := os.Stat("spigot.yaml"); err == nil {
			path = "spigot.yaml"
		}
	}
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// connectServices opens an engine for every configured service. With no
// services configured, a throwaway in-memory SQLite service named "default"
// is connected so the gateway is usable out of the box.
func connectServices(cfg *config.Config, logger *slog.Logger) (*engine.Registry, error) {
	engines := engine.NewRegistry()

	if len(cfg.Services) == 0 {
		if err := engines.Connect("default", engine.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
			return nil, fmt.Errorf("connect default service: %w", err)
		}
		logger.Warn("no services configured, using in-memory sqlite", "service", "default")
		return engines, nil
	}

	for _, svc := range cfg.Services {
		conn := engine.ConnectionConfig{Driver: svc.Driver, DSN: svc.DSN, ReadOnly: svc.ReadOnly}
		if svc.Pool != nil {
			conn.MaxOpenConns = svc.Pool.MaxOpenConns
			conn.MaxIdleConns = svc.Pool.MaxIdleConns
			if d, err := time.ParseDuration(svc.Pool.ConnMaxLifetime); err == nil {
				conn.ConnMaxLifetime = d
			}
		}
		if err := engines.Connect(svc.Name, conn); err != nil {
			engines.CloseAll()
			return nil, err
		}
		logger.Info("connected service", "service", svc.Name, "driver", svc.Driver)
	}
	return engines, nil
}

// fullPermissions is the grant set given to seed keys marked admin.
func fullPermissions() []model.Permission {
	actions := []string{model.ActionRead, model.ActionWrite, model.ActionDelete, model.ActionCreate}
	return []model.Permission{
		{Resource: model.ResourceData, Actions: actions},
		{Resource: model.ResourceTables, Actions: actions},
		{Resource: model.ResourceMedia, Actions: actions},
		{Resource: model.ResourceAdmin, Actions: actions},
	}
}

// openStorage builds the media store, defaulting the local backend's root
// to a directory under the state dir.
func openStorage(cfg *config.Config) (storage.Store, error) {
	sc := cfg.Storage
	if sc.Backend == "" {
		sc.Backend = "local"
	}
	if sc.Backend == "local" && sc.Path == "" {
		sc.Path = filepath.Join(resolveDataDir(), "media")
	}
	return storage.Open(cmdCtx(), sc)
}

// cmdCtx returns a background context for CLI initialization.
func cmdCtx() context.Context {
	return context.Background()
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "spigot.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "spigot.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
