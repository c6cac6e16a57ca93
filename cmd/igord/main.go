package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/events"
	"github.com/ternarybob/igor/internal/handlers"
	"github.com/ternarybob/igor/internal/inventory"
	"github.com/ternarybob/igor/internal/jobs"
	"github.com/ternarybob/igor/internal/maintenance"
	"github.com/ternarybob/igor/internal/origins/files"
	"github.com/ternarybob/igor/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("igord version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	if len(configFiles) == 0 {
		if _, err := os.Stat("igord.toml"); err == nil {
			configFiles = append(configFiles, "igord.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	logger = common.SetupLogger(config)

	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Daemon configuration loaded")

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Daemon failed to start")
		os.Exit(1)
	}
}

func run() error {
	// Inventory and its origins
	inv := inventory.New(logger)
	if len(config.Origins.Hosts) > 0 {
		inv.AddOrigin(inventory.CategoryHosts, "files", files.NewHostsOrigin(config.Origins.Hosts, logger))
	}
	for _, root := range config.Origins.Profiles {
		inv.AddOrigin(inventory.CategoryProfiles, "local", files.NewLocalProfilesOrigin(root, logger))
	}
	if len(config.Origins.Testsuites) > 0 {
		inv.AddOrigin(inventory.CategoryTestsuites, "files", files.NewTestsuitesOrigin(config.Origins.Testsuites, logger))
	}
	if len(config.Origins.Testplans) > 0 {
		inv.AddOrigin(inventory.CategoryPlans, "files", files.NewTestplansOrigin(config.Origins.Testplans, logger))
	}
	if err := inv.Check(); err != nil {
		return fmt.Errorf("inventory check: %w", err)
	}

	// Lifecycle events and hooks
	publisher := events.NewPublisher(logger)
	defer publisher.Close()

	hooks := jobs.NewHookRunner(
		config.Hooks.Path,
		config.Hooks.SpawnsPerSec,
		config.Hooks.SpawnBurst,
		time.Duration(config.Hooks.SpawnWaitSecs)*time.Second,
		publisher,
		logger,
	)

	// The job center and its background worker
	callbackURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	center := jobs.NewJobCenter(jobs.Options{
		SessionRoot:      config.Session.Path,
		CallbackURL:      callbackURL,
		WorkerTick:       config.Scheduler.WorkerTick(),
		WatchdogInterval: config.Scheduler.WorkerTick(),
		CleanupAge:       config.Scheduler.CleanupAgeDuration(),
		MaxCleanedJobs:   config.Scheduler.MaxCleanedJobs,
	}, inv, hooks, logger)
	center.Start()
	defer center.Stop()

	// Event stream over TCP
	if config.Events.Port > 0 {
		tcp := events.NewTCPServer(fmt.Sprintf("%s:%d", config.Server.Host, config.Events.Port), publisher, logger)
		if err := tcp.Start(); err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		defer tcp.Stop()
	}

	// Orphan session sweep
	sweeper := maintenance.NewSweeper(config.Session.Path, center, logger)
	if err := sweeper.Start(config.Scheduler.SessionSweepCron); err != nil {
		return fmt.Errorf("session sweeper: %w", err)
	}
	defer sweeper.Stop()

	// HTTP surface
	h := server.Handlers{
		Jobs:       handlers.NewJobHandler(center, inv, logger),
		Bootstrap:  handlers.NewBootstrapHandler(center, callbackURL, logger),
		Testsuites: handlers.NewTestsuiteHandler(inv, logger),
		Testplans:  handlers.NewTestplanHandler(center, inv, logger),
		Profiles:   handlers.NewProfileHandler(inv, logger),
	}
	if config.Events.WebSocket {
		h.Events = events.NewWebSocketHandler(publisher, logger)
	}
	srv := server.New(config, h, logger)

	serverErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				serverErr <- fmt.Errorf("server panicked: %v", r)
			}
		}()
		serverErr <- srv.Start()
	}()

	logger.Info().
		Str("url", callbackURL).
		Msg("Daemon ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("Shutting down daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}
