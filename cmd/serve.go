package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/codex-bridge/bridge"
	"github.com/zhubert/codex-bridge/cli"
	"github.com/zhubert/codex-bridge/codex"
	"github.com/zhubert/codex-bridge/config"
	pexec "github.com/zhubert/codex-bridge/exec"
	"github.com/zhubert/codex-bridge/git"
	"github.com/zhubert/codex-bridge/logger"
	"github.com/zhubert/codex-bridge/notification"
	"github.com/zhubert/codex-bridge/registry"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command API over HTTP and WebSocket",
	Long: `Starts the command surface and runs until interrupted.

Endpoints:
  GET  /health   liveness check
  POST /invoke   {"command": "...", "args": {...}}
  GET  /ws       WebSocket: {"id", "cmd", "args"} in, {"id", "payload"} out,
                 plus {"event": "codex-event"} pushes for agent output

Every open session is closed on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides listen_addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.SetListenAddr(serveListen)
	}
	defer logger.Close()

	gitPath, patchPath := cfg.GetToolPaths()
	checker := cli.NewChecker(pexec.NewRealExecutor())
	if err := checker.ValidateRequired(cmd.Context(), cli.PrerequisitesFor(cfg.GetCodexPath(), gitPath, patchPath)); err != nil {
		return fmt.Errorf("%v\n\nInstall required tools and try again", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := buildApp(cfg, func(ctx context.Context, id string, sc config.SessionConfig, opts codex.Options) (codex.Handle, error) {
		return codex.NewClient(ctx, id, sc, opts)
	})
	defer app.registry.CloseAll(context.Background())

	if path := cfg.FilePath(); path != "" {
		w, err := config.NewWatcher(path, 0, app.reload)
		if err != nil {
			logger.Get().Warn("config hot reload disabled", "path", path, "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	addr := cfg.GetListenAddr()
	fmt.Fprintf(cmd.OutOrStdout(), "codex-bridge listening on %s\n", addr)
	logger.Get().Info("serving", "addr", addr, "config", cfg.FilePath())

	if err := app.server.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// clientFactory builds a session handle; codex.NewClient in production.
type clientFactory func(ctx context.Context, id string, cfg config.SessionConfig, opts codex.Options) (codex.Handle, error)

// bridgeApp is the wired set of components behind serve.
type bridgeApp struct {
	server   *bridge.Server
	registry *registry.Registry
	notifier *notification.Notifier
}

// buildApp wires the git service, registry, dispatcher and server from cfg.
// Agent events from every session are broadcast to WebSocket clients and
// passed to the desktop notifier.
func buildApp(cfg *config.Config, newClient clientFactory) *bridgeApp {
	gitPath, patchPath := cfg.GetToolPaths()
	codexPath := cfg.GetCodexPath()

	app := &bridgeApp{notifier: notification.NewNotifier(cfg.GetNotify())}
	factory := func(ctx context.Context, id string, sc config.SessionConfig) (codex.Handle, error) {
		return newClient(ctx, id, sc, codex.Options{
			CodexPath: codexPath,
			OnEvent:   app.handleEvent,
		})
	}

	app.registry = registry.New(factory, git.NewGitService().WithToolPaths(gitPath, patchPath))
	app.registry.SetDefaults(cfg.GetDefaults())
	app.server = bridge.NewServer(bridge.NewDispatcher(app.registry, pexec.NewRealExecutor(), codexPath))
	return app
}

func (a *bridgeApp) handleEvent(ev codex.Event) {
	a.server.Broadcast(ev)
	a.notifier.HandleEvent(ev)
}

// reload applies the settings that can change without a restart. The listen
// address and tool paths keep their startup values.
func (a *bridgeApp) reload(cfg *config.Config) {
	a.registry.SetDefaults(cfg.GetDefaults())
	a.notifier.SetEnabled(cfg.GetNotify())
	logger.SetDebug(debugMode || cfg.GetDebug())
}
