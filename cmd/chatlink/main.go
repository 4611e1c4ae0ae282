package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lancerdesk/chatlink/internal/config"
	"github.com/lancerdesk/chatlink/internal/console"
	"github.com/lancerdesk/chatlink/internal/health"
	"github.com/lancerdesk/chatlink/internal/logging"
	"github.com/lancerdesk/chatlink/internal/logring"
	"github.com/lancerdesk/chatlink/internal/metrics"
	"github.com/lancerdesk/chatlink/internal/restapi"
	"github.com/lancerdesk/chatlink/internal/session"
	"github.com/lancerdesk/chatlink/internal/setup"
	"github.com/lancerdesk/chatlink/internal/store"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatlink",
		Short: "Realtime chat session daemon for the LancerDesk admin console",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat session daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ChatLink %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Server: %s\n", cfg.Chat.ServerURL)
			fmt.Printf("  REST:   %s\n", cfg.Chat.RESTBaseURL)
			fmt.Printf("  Local:  %s\n", cfg.Health.ListenAddress)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8611/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/chatlink/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Identity == "" {
		return fmt.Errorf("auth.identity is required to start (set it in config or CHATLINK_AUTH_IDENTITY)")
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Set up logging, teeing records into the ring for the console viewer
	ring := logring.NewRingBuffer(1000)
	lj := logging.Setup(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.File,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		ring,
	)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting ChatLink",
		"version", Version,
		"server", cfg.Chat.ServerURL,
		"rest", cfg.Chat.RESTBaseURL,
		"local", cfg.Health.ListenAddress,
	)

	// Config is swapped on SIGHUP; reads go through getConfig
	var cfgMu sync.RWMutex
	getConfig := func() *config.Config {
		cfgMu.RLock()
		defer cfgMu.RUnlock()
		return cfg
	}

	// Session manager and local message store
	mgr := session.NewManager(cfg.Chat)
	defer mgr.Close()

	roomStore := store.NewRoomStore(cfg.Chat.HistoryLimit)
	if _, err := roomStore.Bind(mgr); err != nil {
		return fmt.Errorf("binding store listener: %w", err)
	}

	api := restapi.NewClient(cfg.Chat.RESTBaseURL, cfg.Auth.RESTToken, 10*time.Second)

	// Disconnect releases the store's listener and the room joins, so an
	// in-process reconnect has to restore both after the new connect.
	reconnect := func(ctx context.Context, identity string) (string, error) {
		mgr.Disconnect()
		connID, err := mgr.Connect(ctx, identity)
		if err != nil {
			return "", err
		}
		if _, err := roomStore.Bind(mgr); err != nil {
			return "", err
		}
		for _, roomID := range getConfig().Chat.JoinRooms {
			if err := mgr.JoinRoom(roomID); err != nil {
				slog.Warn("rejoining configured room failed", "room_id", roomID, "error", err)
			}
		}
		return connID, nil
	}

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		mgr.SetMetrics(m)
		roomStore.SetMetrics(m)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Connect and join the configured rooms. A failed connect is not fatal:
	// the admin UI degrades to REST-only behavior and the console can
	// trigger a reconnect later.
	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Chat.HandshakeTimeout)
	if _, err := mgr.Connect(startCtx, cfg.Auth.Identity); err != nil {
		slog.Error("initial connect failed, continuing without realtime delivery", "error", err)
	} else {
		for _, roomID := range cfg.Chat.JoinRooms {
			if err := mgr.JoinRoom(roomID); err != nil {
				slog.Warn("joining configured room failed", "room_id", roomID, "error", err)
			}
		}
	}
	startCancel()

	// Local listener: health, metrics, console
	var localServer *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Health.Endpoint, health.NewHandler(mgr, roomStore, api, Version, cfg.Health.Detailed))

		if cfg.Monitoring.MetricsEnabled {
			mux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		if cfg.Console.Enabled {
			con := console.New(console.Dependencies{
				Manager:   mgr,
				RoomStore: roomStore,
				Ring:      ring,
				GetConfig: getConfig,
				Reconnect: reconnect,
				Version:   Version,
				BuildTime: BuildTime,
				GitCommit: GitCommit,
				StartTime: time.Now(),
			})
			mux.Handle("/api/v1/", con.Handler())
		}

		localServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: mux,
		}
		go func() {
			slog.Info("local endpoint listening", "address", cfg.Health.ListenAddress)
			if err := localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("local server error", "error", err)
			}
		}()
	}

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			warnings := config.IsReloadSafe(cfg, newCfg)
			for _, w := range warnings {
				slog.Warn("config reload warning", "warning", w)
			}

			cfgMu.Lock()
			cfg = cfg.ApplyReloadableFields(newCfg)
			cfgMu.Unlock()

			mgr.SetSendRate(cfg.Chat.MessagesPerSecond)
			roomStore.SetLimit(cfg.Chat.HistoryLimit)

			// Re-setup logging with new level
			logging.Setup(
				cfg.Logging.Level,
				cfg.Logging.Format,
				cfg.Logging.File,
				cfg.Logging.MaxSizeMB,
				cfg.Logging.MaxBackups,
				cfg.Logging.MaxAgeDays,
				cfg.Logging.Compress,
				ring,
			)

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal", "signal", sig.String())

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			mgr.Close()

			if localServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				localServer.Shutdown(ctx)
				cancel()
			}

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=ChatLink - Realtime Chat Session Daemon
Documentation=https://github.com/lancerdesk/chatlink
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=chatlink
Group=chatlink
ExecStartPre=/usr/local/bin/chatlink validate --config /etc/chatlink/config.yaml
ExecStart=/usr/local/bin/chatlink start --config /etc/chatlink/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/chatlink
LogsDirectory=chatlink
StateDirectory=chatlink
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=chatlink

[Install]
WantedBy=multi-user.target
`)
}
