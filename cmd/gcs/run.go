package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rttgcs/internal/app"
	"rttgcs/internal/bridge"
	"rttgcs/internal/bus"
	"rttgcs/internal/comms"
	"rttgcs/internal/config"
	"rttgcs/internal/lifecycle"
	"rttgcs/internal/linkquality"
	"rttgcs/internal/logging"
	"rttgcs/internal/notify"
	"rttgcs/internal/persistence"
	"rttgcs/internal/simulator"
	"rttgcs/internal/statefeed"
	"rttgcs/internal/telemetry"
)

const shutdownGrace = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the payload and run the scan lifecycle until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true

		return runGCS()
	},
}

func runGCS() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfgFile := paths.ConfigFile
	if configPath != "" {
		cfgFile = configPath
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting gcs", "version", app.ReleaseVersion(), "build_date", app.ReleaseDate())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 256)
	writer.Start(ctx)

	// Every launch is a fresh scan run in the session database.
	if cfg.PingFinder.RunNum == 0 {
		cfg.PingFinder.RunNum = time.Now().Unix()
	}
	telem := telemetry.NewManager(logMgr.Logger("telemetry"), b, persistence.NewTelemetryRepo(db), writer)
	telem.SetRun(cfg.PingFinder.RunNum)
	go telem.Run(ctx)

	var backend bridge.Requester
	if simulate {
		sim := simulator.NewBackend(logMgr.Logger("simulator"), b)
		sim.Run(ctx)
		backend = sim
		logger.Info("using in-process payload simulator")
	} else {
		backend = comms.NewService(logMgr.Logger("comms"), b)
	}

	// Both Run methods subscribe synchronously and spawn their own consumer
	// goroutines, so every event published after this line is observed.
	machine := lifecycle.NewMachine(logMgr.Logger("lifecycle"), b, backend)
	machine.Run(ctx)

	estimator := linkquality.NewEstimator(logMgr.Logger("linkquality"))
	estimator.Run(ctx, b, machine.Connected)

	if cfg.Feed.Enabled {
		feed := statefeed.NewServer(logMgr.Logger("statefeed"), b, cfg.Feed.Listen)
		go feed.Run(ctx)
	}

	if cfg.Notifications.Enabled {
		notifier := notify.NewNotifier(logMgr.Logger("notify"), b, notify.NewBeeepSender(logMgr.Logger("notify")), cfg.Notifications)
		go notifier.Run(ctx)
	}

	drive(ctx, logger, b, machine, cfg)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdown(logger, machine)

	return nil
}

func applyFlagOverrides(cfg *config.AppConfig) {
	if interfaceKind != "" {
		cfg.Comms.InterfaceKind = bridge.InterfaceKind(strings.ToLower(strings.TrimSpace(interfaceKind)))
	}
	if simulate {
		cfg.Comms.InterfaceKind = bridge.InterfaceSimulated
		if cfg.Comms.Host == "" {
			cfg.Comms.Host = "localhost"
		}
	}
	if serialPort != "" {
		cfg.Comms.Port = serialPort
	}
	if serialBaud > 0 {
		cfg.Comms.BaudRate = serialBaud
	}
	if simHost != "" {
		cfg.Comms.Host = simHost
	}
	if simTCPPort > 0 {
		cfg.Comms.TCPPort = simTCPPort
	}
}

// drive advances the lifecycle without operator input: it opens the
// connection, then sends the ping finder configuration and the start request
// as each stage's input phase is reached. Stages that fail or time out stay
// where they are for the operator to inspect through the state feed.
func drive(ctx context.Context, logger *slog.Logger, b bus.MessageBus, machine *lifecycle.Machine, cfg config.AppConfig) {
	sub := b.Subscribe(lifecycle.TopicState)

	go func() {
		defer b.Unsubscribe(sub, lifecycle.TopicState)

		if err := machine.RequestRadioConfig(ctx, cfg.Comms); err != nil {
			logger.Error("open connection", "error", err)

			return
		}

		var configSent, startSent bool
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				st, ok := msg.(lifecycle.State)
				if !ok {
					continue
				}

				switch st.Phase {
				case lifecycle.PhasePingFinderConfigInput:
					if configSent || !st.Connected {
						continue
					}
					if len(cfg.PingFinder.TargetFrequencies) == 0 {
						logger.Warn("no target frequencies configured, staying connected without scanning")

						continue
					}
					configSent = true
					if err := machine.RequestPingFinderConfig(ctx, cfg.PingFinder); err != nil {
						logger.Error("send ping finder config", "error", err)
						configSent = false
					}
				case lifecycle.PhaseStartInput:
					if startSent {
						continue
					}
					startSent = true
					if err := machine.RequestStart(ctx); err != nil {
						logger.Error("start scan", "error", err)
						startSent = false
					}
				}
			}
		}
	}()
}

// shutdown stops a running scan and closes the connection, bounded by a
// grace period since the parent context is already cancelled.
func shutdown(logger *slog.Logger, machine *lifecycle.Machine) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if machine.Phase() == lifecycle.PhaseStopInput {
		if err := machine.RequestStop(ctx); err != nil {
			logger.Warn("stop scan on shutdown", "error", err)
		} else {
			deadline := time.Now().Add(shutdownGrace)
			for machine.Phase() == lifecycle.PhaseStopWaiting && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}

	if machine.Connected() {
		machine.Disconnect(ctx)
	}
}
