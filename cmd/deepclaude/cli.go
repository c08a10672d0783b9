package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DreamFate/DeepClaude/internal/config"
	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/dispatch"
	"github.com/DreamFate/DeepClaude/internal/obs"
	"github.com/DreamFate/DeepClaude/internal/server"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

// Set by compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var (
	configDir string
	host      string
	port      int
)

var rootCmd = &cobra.Command{
	Use:   "deepclaude",
	Short: "DeepClaude - reasoning-augmented chat completion gateway",
	Long: `DeepClaude exposes a single OpenAI-compatible chat completion endpoint
that can route to configured upstream providers directly, or pair a reasoning
model with a target model so the target answers with the reasoner's thinking
injected into the prompt.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logrus.SetLevel(logrus.TraceLevel)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("DeepClaude\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		fmt.Printf("Build Time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default: ~/.deepclaude)")

	serveCmd.Flags().StringVar(&host, "host", "", "listen host (default: all interfaces)")
	serveCmd.Flags().IntVar(&port, "port", 8000, "listen port")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe() error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	store, err := db.NewStore(cfg.DataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	level := "info"
	if setting, err := store.GetSetting(typ.SettingLogLevel); err == nil {
		level = setting.Str(level)
	}
	if err := obs.SetupLogging(cfg.LogDir(), level); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logrus.Infof("deepclaude %s starting", version)

	dispatcher := dispatch.New(store)
	if err := dispatcher.ReloadTransport(); err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, store, dispatcher,
		server.WithHost(host),
		server.WithVersion(version),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logrus.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
