package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/panelkit/panelkit/internal/config"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/observability"
	"github.com/panelkit/panelkit/internal/plugin"
	luaengine "github.com/panelkit/panelkit/internal/plugin/lua"
)

// NewRunCmd creates the run subcommand: mount one plugin, render its
// output, and keep it mounted until interrupted.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a plugin and render it",
		Long: `Load a plugin by registry ID (or directly by bundle URL), drive it
through the load lifecycle, render its component once, and keep it
mounted until interrupted so hooks and config updates can be observed.`,
		RunE: runPlugin,
	}

	cmd.Flags().String("plugin", "", "plugin ID to resolve via the registry")
	cmd.Flags().String("bundle-url", "", "bundle URL to load directly, bypassing the registry")
	cmd.Flags().String("registry-url", "", "plugin registry base URL")
	cmd.Flags().String("api-base-url", "", "backend origin for scoped plugin API calls")
	cmd.Flags().String("metrics-addr", "", "observability server listen address")
	cmd.Flags().Bool("once", false, "render once and exit instead of staying mounted")

	return cmd
}

func runPlugin(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := logging.Setup("panelkit", version, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meta, err := resolveMetadata(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	obs := observability.NewServer(cfg.MetricsAddr, func() bool { return true })
	if _, err := obs.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Stop(shutdownCtx)
	}()

	policy, err := plugin.NewOriginPolicy(cfg.BundleAllowlist)
	if err != nil {
		return oops.In("run").Hint("invalid bundle allowlist").Wrap(err)
	}

	engine := luaengine.NewEngine(luaengine.WithEngineLogger(logger))
	slot := plugin.NewSlot(engine,
		plugin.WithFetcher(plugin.NewBundleFetcher(plugin.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}))),
		plugin.WithOriginPolicy(policy),
		plugin.WithHostVersion(cfg.EngineVersion),
		plugin.WithMetrics(obs.Metrics()),
		plugin.WithLogger(logger),
		plugin.WithAPIOptions(
			plugin.WithAPIBaseURL(cfg.APIBaseURL),
			plugin.WithAPIBasePath(cfg.PluginBasePath),
			plugin.WithAPILogger(logger),
		),
		plugin.WithCapabilities(plugin.Capabilities{
			Theme: plugin.Theme{Mode: "dark"},
			Navigate: func(path string) {
				logger.Info("plugin requested navigation", "path", path)
			},
			Toast: func(message, severity string) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", severity, message)
			},
		}),
	)

	boundary := plugin.NewBoundary(
		plugin.WithBoundaryMetrics(obs.Metrics()),
		plugin.WithBoundaryLogger(logger),
		plugin.WithCrashFunc(func(pluginID string, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "plugin %s crashed: %v\n", pluginID, err)
		}),
	)

	slot.Mount(logging.WithPlugin(ctx, meta.ID), *meta)
	slot.Wait()
	defer slot.Unmount(context.Background())

	fmt.Fprintln(cmd.OutOrStdout(), slot.RenderView(ctx, boundary))

	if state := slot.State(); state.Phase == plugin.PhaseError {
		return state.Err
	}

	once, _ := cmd.Flags().GetBool("once")
	if once {
		return nil
	}

	<-ctx.Done()
	return nil
}

// resolveMetadata builds the metadata record either from the registry or
// synthesized around a direct bundle URL.
func resolveMetadata(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*plugin.Metadata, error) {
	pluginID, _ := cmd.Flags().GetString("plugin")
	bundleURL, _ := cmd.Flags().GetString("bundle-url")

	switch {
	case pluginID != "":
		registry, err := plugin.NewRegistryClient(cfg.RegistryURL)
		if err != nil {
			return nil, err
		}
		return registry.GetPlugin(ctx, pluginID)
	case bundleURL != "":
		return &plugin.Metadata{
			ID:        "adhoc",
			Name:      "adhoc",
			Version:   "0.0.0",
			BundleURL: bundleURL,
			Enabled:   true,
		}, nil
	default:
		return nil, oops.In("run").New("either --plugin or --bundle-url is required")
	}
}
