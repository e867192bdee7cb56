package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/pidfile"
	"github.com/qns-project/qns-core/pkg/uci"
)

var (
	configPath   = flag.String("config", "/etc/config/qns", "Path to UCI configuration file")
	pidPath      = flag.String("pid-file", "/tmp/qnsd.pid", "Path to PID file")
	logLevel     = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	version      = flag.Bool("version", false, "Show version information")
	foreground   = flag.Bool("foreground", false, "Run in foreground mode (don't daemonize)")
	force        = flag.Bool("force", false, "Force start by removing a stale PID file")
	numSlots     = flag.Int("slots", 2, "Number of cellular slots to run the evaluator pool for")
	pollInterval = flag.Duration("poll-interval", 2*time.Second, "Telephony poll interval")
)

const (
	appName    = "qnsd"
	appVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, appName)

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if *force {
			logger.Warn("another instance is running, force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", appName, existingPID)
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("failed to remove PID file", "error", err)
		}
	}()

	logger.Info("starting qns daemon", "version", appVersion, "pid", os.Getpid(), "foreground", *foreground)

	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	uciClient := uci.NewUCI(logger)
	configManager := uci.NewConfigManager(uciClient, logger)
	if err := configManager.EnsureRequiredConfig(context.Background()); err != nil {
		logger.Warn("failed to ensure required UCI configuration, continuing with file-loaded config", "error", err)
	} else if err := configManager.Commit(context.Background()); err != nil {
		logger.Warn("failed to commit UCI configuration changes", "error", err)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	daemon, err := newDaemon(cfg, *numSlots, *pollInterval, logger)
	if err != nil {
		logger.Error("failed to wire daemon", "error", err)
		os.Exit(1)
	}
	defer daemon.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startTime := time.Now()
	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()
	go daemon.writeHeartbeat(ctx, heartbeatTicker, startTime, logger)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- daemon.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading carrier configuration")
				if err := reloadCarrierConfig(cfg, daemon); err != nil {
					logger.Warn("carrier config reload failed", "error", err)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			select {
			case <-runErrCh:
			case <-time.After(10 * time.Second):
				logger.Warn("shutdown timeout exceeded")
			}
			return
		case err := <-runErrCh:
			if err != nil {
				logger.Error("daemon exited with error", "error", err)
				os.Exit(1)
			}
			return
		}
	}
}

// reloadCarrierConfig re-reads the UCI config file and swaps each slot's
// active CarrierConfig, per "only on a material diff does it emit
// CONFIG_CHANGED" — the diffing itself lives in policy.Store.ReloadCarrier.
func reloadCarrierConfig(cfg *uci.Config, daemon *Daemon) error {
	next, err := uci.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	assets, err := loadDefaultAssets(next.PolicyAssetDir)
	if err != nil {
		return err
	}
	configs, err := buildCarrierConfigs(assets, next.Carriers)
	if err != nil {
		return err
	}
	active := selectActiveCarrier(next, configs)
	for _, sp := range daemon.slots {
		if sp.store.ReloadCarrier(active) {
			daemon.metricsRegistry.RecordPolicyReload()
		}
	}
	*cfg = *next
	return nil
}
