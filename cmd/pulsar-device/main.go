// Command pulsar-device runs the metering device's wake cycle against a
// simulated counter module.
//
// Each invocation behaves like one or more hardware wake cycles: read
// the counters, synchronize configuration with the cloud, transmit
// readings, listen briefly for push updates, persist and sleep. A
// configuration change exits the process with a dedicated code so the
// supervisor restarts it, exactly as the hardware reboots itself.
//
// Usage:
//
//	pulsar-device [flags]
//
// Flags:
//
//	-config string     YAML configuration file path
//	-data-dir string   State directory (default "./data")
//	-once              Run a single wake cycle and exit
//	-manual            Treat this wake as user-triggered
//	-log-level string  Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pulsar-metering/pulsar-go/pkg/announce"
	"github.com/pulsar-metering/pulsar-go/pkg/cloud"
	"github.com/pulsar-metering/pulsar-go/pkg/cycle"
	"github.com/pulsar-metering/pulsar-go/pkg/meter"
	"github.com/pulsar-metering/pulsar-go/pkg/ntptime"
	"github.com/pulsar-metering/pulsar-go/pkg/pushcfg"
	"github.com/pulsar-metering/pulsar-go/pkg/remotecfg"
	"github.com/pulsar-metering/pulsar-go/pkg/settings"
)

// restartExitCode tells the supervisor this is a deliberate
// configuration restart, not a crash.
const restartExitCode = 3

var (
	configPath string
	dataDir    string
	runOnce    bool
	manualWake bool
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "YAML configuration file path")
	flag.StringVar(&dataDir, "data-dir", "", "State directory (overrides config file)")
	flag.BoolVar(&runOnce, "once", false, "Run a single wake cycle and exit")
	flag.BoolVar(&manualWake, "manual", false, "Treat this wake as user-triggered")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	cfg, err := loadFileConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsar-device: %v\n", err)
		os.Exit(1)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := newLogger(cfg.LogLevel)

	reason := meter.WakeScheduled
	if manualWake {
		reason = meter.WakeManual
	}

	runner, periph, err := buildRunner(cfg, reason, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for {
		if err := runner.Run(ctx); err != nil {
			logger.Error("wake cycle failed", "error", err)
		}
		if runOnce || ctx.Err() != nil {
			return
		}
		// Subsequent wakes within one process are always scheduled.
		periph.reason = meter.WakeScheduled
	}
}

func buildRunner(cfg FileConfig, reason meter.WakeReason, logger *slog.Logger) (*cycle.Runner, *simulatedPeripheral, error) {
	periph, err := newSimulatedPeripheral(cfg.Simulate, cfg.DataDir, reason, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing peripheral: %w", err)
	}

	runnerConfig := cycle.DefaultConfig()
	runnerConfig.DeviceID = cfg.DeviceID
	if cfg.WakeWindow > 0 {
		runnerConfig.WakeWindow = time.Duration(cfg.WakeWindow)
	}

	runner := &cycle.Runner{
		Config:     runnerConfig,
		Store:      settings.NewStore(filepath.Join(cfg.DataDir, "settings.json")),
		Peripheral: periph,
		Fetcher:    remotecfg.NewFetcher(remotecfg.DefaultFetcherConfig(), logger),
		Sender:     cloud.NewSender(cloud.DefaultSenderConfig(), logger),
		Push:       &pushcfg.Channel{DeviceID: cfg.DeviceID, Logger: logger},
		Announcer:  &announcer{responder: announce.NewResponder(announce.Config{Interface: cfg.Interface})},
		TimeSync:   &ntptime.Client{Logger: logger},
		Restart:    &processRestarter{logger: logger},
		Logger:     logger,
	}
	return runner, periph, nil
}

// announcer adapts the mDNS responder to the runner's contract.
type announcer struct {
	responder *announce.Responder
}

func (a *announcer) Start(instance string, sett *settings.Settings) (func(), error) {
	return a.responder.Start(instance, sett)
}

// processRestarter exits so the supervisor restarts the process; the
// next invocation resumes from the persisted settings.
type processRestarter struct {
	logger *slog.Logger
}

func (r *processRestarter) Restart() {
	r.logger.Info("restarting for configuration change")
	os.Exit(restartExitCode)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
