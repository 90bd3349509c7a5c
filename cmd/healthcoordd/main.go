package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nestymook/healthcoord/internal/breaker"
	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/credprovider"
	"github.com/nestymook/healthcoord/internal/httpapi"
	"github.com/nestymook/healthcoord/internal/logs"
	"github.com/nestymook/healthcoord/internal/observability"
	"github.com/nestymook/healthcoord/internal/orchestrator"
	"github.com/nestymook/healthcoord/internal/registry"
	"github.com/nestymook/healthcoord/internal/storage"
)

var (
	configFile string
	listenAddr string
	logLevel   string
	logToFile  bool
	logDir     string
	noSnapshot bool

	version = "v0.1.0" // injected by -ldflags during build
)

const defaultLogLevel = "info"

func main() {
	rootCmd := &cobra.Command{
		Use:     "healthcoordd",
		Short:   "Dual-path health check coordinator for MCP and REST agent endpoints",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in the standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides the standard OS location)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled dual-path probe cycles and serve the health read API",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8089", "Address for the health read API and /metrics")
	serveCmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "Disable the bbolt restart-rehydration snapshot")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without starting the coordinator",
		RunE:  runValidate,
	}

	rootCmd.AddCommand(serveCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(resolveExitCode(err))
	}
}

func resolveExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	default:
		return ExitCodeGeneralError
	}
}

func runValidate(_ *cobra.Command, _ []string) error {
	if configFile == "" {
		return fmt.Errorf("validate: --config is required")
	}
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		os.Exit(ExitCodeConfigError)
		return err
	}
	fmt.Printf("configuration valid: %d server(s) configured\n", len(cfg.Servers))
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if configFile == "" {
		os.Exit(ExitCodeConfigError)
		return fmt.Errorf("serve: --config is required")
	}

	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		os.Exit(ExitCodeConfigError)
		return fmt.Errorf("load configuration: %w", err)
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	if level == "" {
		level = defaultLogLevel
	}
	logger, err := logs.SetupCommandLogger(true, level, logToFile, logDir)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting healthcoordd",
		zap.String("version", version),
		zap.Int("servers_count", len(cfg.Servers)),
		zap.String("data_dir", cfg.DataDir))

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := newConfigStore(cfg)
	creds := credprovider.NewProvider(logger)
	br := breaker.New(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.OpenDuration)
	reg := registry.New(cfg.Retention.WindowCapacity, cfg.Retention.RetentionHours)

	var snapshot *storage.BoltDB
	if !noSnapshot {
		snapshot, err = storage.NewBoltDB(dataDir, logger)
		if err != nil {
			logger.Warn("snapshot database unavailable, continuing without restart rehydration", zap.Error(err))
		} else {
			defer func() { _ = snapshot.Close() }()
			rehydrate(logger, snapshot, reg, br)
		}
	}

	for _, server := range cfg.Servers {
		br.Warm(server.Name)
	}

	obsMgr := observability.NewManager(logger, observability.DefaultConfig())
	orch := orchestrator.New(logger, creds, br, reg, obsMgr.Metrics(), cfg.Aggregation, cfg.Scheduler)

	api := httpapi.New(logger, reg, br, checkerFunc(orch.CheckOne), store)
	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	obsMgr.SetupHTTPHandlers(mux)

	httpSrv := &http.Server{Addr: listenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				added, changed, removed, err := store.Reload(configFile)
				if err != nil {
					logger.Warn("config reload failed, keeping previous configuration", zap.Error(err))
					continue
				}
				logger.Info("config reloaded",
					zap.Strings("added", added), zap.Strings("changed", changed), zap.Strings("removed", removed))
				continue
			}

			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()

			forceQuit := time.NewTimer(10 * time.Second)
			select {
			case sig2 := <-sigChan:
				logger.Warn("received second signal, forcing immediate exit", zap.String("signal", sig2.String()))
				forceQuit.Stop()
				os.Exit(ExitCodeInterrupted)
			case <-forceQuit.C:
			}
			return
		}
	}()

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("health read API listening", zap.String("addr", listenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	runScheduler(ctx, logger, orch, obsMgr, store, snapshot, br, reg, cfg.Scheduler.CycleInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health read API", zap.Error(err))
	}

	select {
	case err := <-serverErrCh:
		logger.Error("health read API failed", zap.Error(err))
	default:
	}

	if snapshot != nil {
		persistFinalSnapshots(logger, snapshot, reg, br, store)
	}

	logger.Info("healthcoordd stopped")
	return nil
}

// runScheduler runs dual-probe cycles on cfg.Scheduler.CycleInterval until
// ctx is cancelled, firing one cycle immediately on entry rather than
// waiting out the first interval.
func runScheduler(
	ctx context.Context,
	logger *zap.Logger,
	orch *orchestrator.Orchestrator,
	obsMgr *observability.Manager,
	store *configStore,
	snapshot *storage.BoltDB,
	br *breaker.DualCircuitBreaker,
	reg *registry.Registry,
	interval time.Duration,
) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runCycle(ctx, logger, orch, obsMgr, store, snapshot, br, reg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle(ctx, logger, orch, obsMgr, store, snapshot, br, reg)
		}
	}
}

func runCycle(
	ctx context.Context,
	logger *zap.Logger,
	orch *orchestrator.Orchestrator,
	obsMgr *observability.Manager,
	store *configStore,
	snapshot *storage.BoltDB,
	br *breaker.DualCircuitBreaker,
	reg *registry.Registry,
) {
	servers := store.Servers()
	start := time.Now()
	if err := orch.CheckMany(ctx, servers); err != nil {
		logger.Warn("probe cycle ended with error", zap.Error(err))
	}
	obsMgr.Tick()
	logger.Debug("probe cycle complete", zap.Int("servers", len(servers)), zap.Duration("elapsed", time.Since(start)))

	if snapshot != nil {
		persistCycleSnapshots(logger, snapshot, reg, br, servers)
	}
}

func persistCycleSnapshots(logger *zap.Logger, snapshot *storage.BoltDB, reg *registry.Registry, br *breaker.DualCircuitBreaker, servers []config.ServerConfig) {
	for _, server := range servers {
		if result, ok := reg.LatestByServer(server.Name); ok {
			if err := snapshot.SaveHealthSnapshot(result); err != nil {
				logger.Warn("failed to persist health snapshot", zap.String("server", server.Name), zap.Error(err))
			}
		}
		if err := snapshot.SaveCircuitState(br.State(server.Name)); err != nil {
			logger.Warn("failed to persist circuit snapshot", zap.String("server", server.Name), zap.Error(err))
		}
	}
}

func persistFinalSnapshots(logger *zap.Logger, snapshot *storage.BoltDB, reg *registry.Registry, br *breaker.DualCircuitBreaker, store *configStore) {
	persistCycleSnapshots(logger, snapshot, reg, br, store.Servers())
}

// rehydrate seeds the in-memory registry and circuit breaker from the last
// persisted snapshot, per the coordinator's restart-rehydration design: it
// never serves reads, it only shortens the UNKNOWN gap right after a restart.
func rehydrate(logger *zap.Logger, snapshot *storage.BoltDB, reg *registry.Registry, br *breaker.DualCircuitBreaker) {
	results, err := snapshot.LoadHealthSnapshots()
	if err != nil {
		logger.Warn("failed to load health snapshots", zap.Error(err))
	}
	for _, result := range results {
		reg.Seed(result)
	}
	states, err := snapshot.LoadCircuitStates()
	if err != nil {
		logger.Warn("failed to load circuit snapshots", zap.Error(err))
	}
	for _, state := range states {
		br.Seed(state)
	}
	logger.Info("rehydrated from snapshot", zap.Int("servers", len(results)))
}

// checkerFunc adapts a plain func value to httpapi.Checker.
type checkerFunc func(ctx context.Context, server *config.ServerConfig)

func (f checkerFunc) CheckOne(ctx context.Context, server *config.ServerConfig) {
	f(ctx, server)
}

// configStore is the live, reloadable configuration snapshot shared by the
// scheduler loop and the manual-trigger endpoint.
type configStore struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func newConfigStore(cfg *config.Config) *configStore {
	return &configStore{cfg: cfg}
}

func (s *configStore) Servers() []config.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.ServerConfig, len(s.cfg.Servers))
	copy(out, s.cfg.Servers)
	return out
}

func (s *configStore) ServerByName(name string) (*config.ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.cfg.Servers {
		if s.cfg.Servers[i].Name == name {
			server := s.cfg.Servers[i]
			return &server, true
		}
	}
	return nil, false
}

// Reload re-reads path and, if valid, replaces the live configuration,
// returning the set of server names added, changed, and removed.
func (s *configStore) Reload(path string) (added, changed, removed []string, err error) {
	next, err := config.LoadFromFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, added, changed, removed := config.Merge(s.cfg, next)
	s.cfg = merged
	return added, changed, removed, nil
}
