package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/fbuildd/pkg/config"
	"github.com/cuemby/fbuildd/pkg/daemon"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/metrics"
	"github.com/cuemby/fbuildd/pkg/singleton"
	"github.com/cuemby/fbuildd/pkg/status"
	"github.com/cuemby/fbuildd/pkg/transport"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fbuildd",
	Short:   "fbuildd - singleton build daemon for embedded firmware projects",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fbuildd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("daemon-dir", "", "Daemon state directory (default: ~/.fbuildd)")
	rootCmd.PersistentFlags().String("http-addr", "", "Local HTTP API address (default: 127.0.0.1:9657)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	daemonDir, _ := cmd.Flags().GetString("daemon-dir")
	httpAddr, _ := cmd.Flags().GetString("http-addr")

	flags := viper.New()
	if httpAddr != "" {
		flags.Set("http_addr", httpAddr)
	}

	return config.Load(daemonDir, flags)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the build daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to resolve config: %w", err)
		}

		d, alreadyRunning, err := daemon.New(cfg.DaemonDir, cfg)
		if err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		if alreadyRunning != nil {
			fmt.Printf("fbuildd already running (pid %d)\n", alreadyRunning.PID)
			return nil
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("singleton", true, "acquired")
		metrics.RegisterComponent("lockmgr", true, "ready")
		metrics.RegisterComponent("opregistry", true, "ready")
		metrics.RegisterComponent("compqueue", true, "ready")

		procs := newProcessors(d)
		handler := newHandler(d, procs)

		fileReceiver := transport.NewFileReceiver(d.Dir, handler)
		httpServer := transport.NewHTTPServer(cfg.HTTPAddr, d.Status, d.Leases, handler)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var wg sync.WaitGroup
		errCh := make(chan error, 2)

		wg.Add(1)
		go func() {
			defer wg.Done()
			fileReceiver.Run(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()

		fmt.Printf("fbuildd started: daemon_dir=%s http_addr=%s pid=%d\n", d.Dir, cfg.HTTPAddr, os.Getpid())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("shutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		cancel()
		wg.Wait()
		d.Shutdown()

		fmt.Println("shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the running daemon's status snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to resolve config: %w", err)
		}

		pid, err := singleton.ReadPID(cfg.DaemonDir)
		if err != nil {
			fmt.Println("fbuildd is not running")
			return nil
		}

		snap := status.Read(filepath.Join(cfg.DaemonDir, "daemon_status.json"))
		fmt.Printf("pid:               %d\n", pid)
		fmt.Printf("state:             %s\n", snap.State)
		fmt.Printf("message:           %s\n", snap.Message)
		fmt.Printf("current_operation: %s\n", snap.CurrentOperation)
		fmt.Printf("ports:             %d\n", len(snap.PortStates))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to resolve config: %w", err)
		}

		pid, err := singleton.ReadPID(cfg.DaemonDir)
		if err != nil {
			return fmt.Errorf("fbuildd is not running: %w", err)
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("failed to find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal process %d: %w", pid, err)
		}

		fmt.Printf("sent SIGTERM to pid %d\n", pid)
		return nil
	},
}
