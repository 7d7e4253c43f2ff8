package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/embassyd/pkg/cache"
	"github.com/cuemby/embassyd/pkg/config"
	embassycontext "github.com/cuemby/embassyd/pkg/context"
	"github.com/cuemby/embassyd/pkg/installer"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
	"github.com/cuemby/embassyd/pkg/runtime"
	"github.com/cuemby/embassyd/pkg/scheduler"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/spf13/cobra"
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
	Use:   "embassyd",
	Short: "embassyd - package installation core for an embedded appliance",
	Long: `embassyd fetches, verifies, caches, unpacks and loads s9pk service
packages into the container runtime, tracking each through a lifecycle
state machine with crash-safe boot-time reconciliation.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"embassyd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/embassyd/config.yaml", "Path to the appliance config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the embassyd install core: boot reconciliation, then serve metrics/health until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, err := embassycontext.Init(cfg, embassycontext.Options{})
		if err != nil {
			return fmt.Errorf("initializing context: %w", err)
		}
		defer ctx.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "opened")
		metrics.RegisterComponent("containerd", ctx.Runtime != nil, "connected")

		collector := metrics.NewCollector(ctx.Store)
		collector.Start(0)
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		fmt.Printf("embassyd running, metrics at http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("shutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install PACKAGE_ID VERSION ARCHIVE_PATH",
	Short: "Install an s9pk archive from a local file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		loaderBinary, _ := cmd.Flags().GetString("loader")
		publicRoot, _ := cmd.Flags().GetString("public-root")
		cacheRoot, _ := cmd.Flags().GetString("cache-root")

		pkgID := types.PackageId(args[0])
		version, err := types.ParseVersion(args[1])
		if err != nil {
			return fmt.Errorf("parsing version: %w", err)
		}

		f, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return fmt.Errorf("statting archive: %w", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, err := embassycontext.Init(cfg, embassycontext.Options{})
		if err != nil {
			return fmt.Errorf("initializing context: %w", err)
		}
		defer ctx.Close()

		c, err := cache.New(cacheRoot)
		if err != nil {
			return fmt.Errorf("opening content cache: %w", err)
		}
		loader := runtime.NewLoader(loaderBinary)
		inst := installer.New(ctx.Store, c, loader, ctx.Managers.Volumes, ctx.Network, publicRoot)
		sched := scheduler.New(inst, 1)

		if err := ctx.Store.Put(pkgID, types.PackageDataEntry{
			Variant:    types.VariantInstalling,
			Installing: &types.InstallingInfo{},
		}); err != nil {
			return fmt.Errorf("recording install intent: %w", err)
		}

		job := scheduler.Job{
			PackageID: pkgID,
			Version:   version,
			Source: installer.Source{
				Body:          f,
				ContentLength: st.Size(),
			},
		}
		if err := sched.RunAll(cmd.Context(), []scheduler.Job{job}); err != nil {
			return fmt.Errorf("install failed: %w", err)
		}

		fmt.Printf("installed %s@%s\n", pkgID, version)
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the metrics/health HTTP server listens on")

	installCmd.Flags().String("loader", "", "Image-loader binary (defaults to the runtime's embedded default)")
	installCmd.Flags().String("public-root", "", "Root directory unpacked package assets are written under (defaults to the installer's built-in default)")
	installCmd.Flags().String("cache-root", "/mnt/embassy-os/cache", "Content cache root directory")
}
