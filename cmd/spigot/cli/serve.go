package cli

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigotdb/spigot/internal/auth"
	"github.com/spigotdb/spigot/internal/config"
	"github.com/spigotdb/spigot/internal/job"
	"github.com/spigotdb/spigot/internal/ratelimit"
	"github.com/spigotdb/spigot/internal/server"
	"github.com/spigotdb/spigot/internal/telemetry"
	"github.com/spigotdb/spigot/internal/udf"
	"github.com/spigotdb/spigot/internal/webhook"
)

const banner = `
 ___ ___ ___ ___ ___ _____
/ __| _ \_ _/ __|   \_   _|
\__ \  _/| | (_ | () || |
|___/_| |___\___|___/ |_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Spigot API server",
		Long:  "Start the HTTP server that exposes the governed REST API over all configured database services.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return runServeDaemon()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Logging, dev)

	// Credential store and admin sessions.
	keys := auth.NewStore(auth.Mode(cfg.Auth.Mode))
	keys.SetDefaultPolicy(cfg.DefaultPolicy())
	for _, seed := range cfg.Auth.SeedKeys {
		perms := seed.Permissions
		if seed.Admin {
			perms = fullPermissions()
		}
		if _, err := keys.Seed(seed.Key, seed.Name, perms, nil); err != nil {
			return fmt.Errorf("seed key %q: %w", seed.Name, err)
		}
		logger.Info("seeded api key", "name", seed.Name, "admin", seed.Admin)
	}

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = viper.GetString("auth.jwt_secret")
	}
	if jwtSecret == "" {
		jwtSecret = "spigot-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using development default")
	}
	sessions := auth.NewSessions(jwtSecret)

	limiter := ratelimit.NewRegistry(logger)

	engines, err := connectServices(cfg, logger)
	if err != nil {
		return err
	}

	media, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	logger.Info("storage ready", "backend", cfg.Storage.Backend)

	webhooks := webhook.NewRegistry()
	notifier := webhook.NewNotifier(webhooks, logger)
	udfs := udf.NewRegistry()

	jobs := job.NewRegistry()
	scheduler := job.NewScheduler(jobs, cfg.Jobs.Workers, cfg.Jobs.QueueSize, notifier, logger)
	job.NewExecutors(engines, media).RegisterAll(scheduler)

	tracker := telemetry.New(resolveDataDir(), func() telemetry.Properties {
		return telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			DBTypes:   driverTypes(cfg),
			Services:  len(engines.Services()),
			APIKeys:   len(keys.List()),
			Webhooks:  len(webhooks.List()),
			Jobs:      len(jobs.List("", "", 0)),
		}
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		MaxBatchSize:    cfg.Server.MaxBatchSize,
		APIKeyHeader:    cfg.Auth.APIKeyHeader,
		DefaultService:  defaultServiceName(cfg),
		Version:         versionString(),
	}

	srv := server.New(srvCfg, server.Deps{
		Keys:      keys,
		Sessions:  sessions,
		Limiter:   limiter,
		Engines:   engines,
		Jobs:      jobs,
		Scheduler: scheduler,
		Webhooks:  webhooks,
		Notifier:  notifier,
		UDFs:      udfs,
		Media:     media,
	}, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Spigot %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Services: %d\n", len(engines.Services()))
	fmt.Println()

	return srv.ListenAndServe()
}

// runServeDaemon re-executes the binary in the background, detached from the
// terminal, with stdout and stderr redirected to the log file.
func runServeDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	fmt.Printf("Spigot server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Printf("  Stop with: spigot stop\n")

	// Give the child a moment to fail fast on bad config.
	time.Sleep(300 * time.Millisecond)
	if !isProcessRunning(child.Process.Pid) {
		return fmt.Errorf("server exited immediately, check %s", logFilePath())
	}
	return nil
}

// defaultServiceName picks the service unqualified table requests go to:
// the first configured service, or the built-in "default".
func defaultServiceName(cfg *config.Config) string {
	if len(cfg.Services) > 0 {
		return cfg.Services[0].Name
	}
	return "default"
}

// driverTypes returns the distinct drivers in use, for telemetry.
func driverTypes(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, svc := range cfg.Services {
		if !seen[svc.Driver] {
			seen[svc.Driver] = true
			out = append(out, svc.Driver)
		}
	}
	if len(out) == 0 {
		out = []string{"sqlite"}
	}
	return out
}
