// Command sri is the entry point for the Sri voice assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.design/x/hotkey/mainthread"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sri/internal/app"
	"github.com/MrWong99/sri/internal/config"
	discordbot "github.com/MrWong99/sri/internal/discord"
	"github.com/MrWong99/sri/internal/discord/commands"
	"github.com/MrWong99/sri/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Global hotkeys must be serviced from the main OS thread on macOS.
	code := 0
	mainthread.Init(func() { code = execute() })
	os.Exit(code)
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sri: %v\n", err)
		return 1
	}
	return 0
}

// options are the persistent command line flags.
type options struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "sri",
		Short: "Sri, a push-to-talk voice assistant with a Discord bridge",
		Long: `sri listens while the push-to-talk key is held, answers through an LLM
and speaks the reply locally or into a Discord voice channel.

Running sri without a subcommand is the same as "sri run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssistant(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml",
		"path to the YAML configuration file (optional)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"dotenv file loaded before the configuration (optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the assistant",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAssistant(cmd.Context(), opts)
			},
		},
		newVoicesCmd(opts),
		newKeysCmd(),
	)
	return root
}

// loadEnvFile loads path into the process environment. Variables that are
// already set win. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig loads the configuration file at path with environment
// overrides. A missing file falls back to defaults plus the environment.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path, config.WithEnv(os.LookupEnv))
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Load("", config.WithEnv(os.LookupEnv))
		return cfg, false, err
	}
	return cfg, err == nil, err
}

func runAssistant(ctx context.Context, opts *options) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levels := new(slog.LevelVar)
	levels.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levels})))

	slog.Info("sri starting",
		"version", version,
		"config", opts.configPath,
		"config_file", fromFile,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sri",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Discord bot (optional) ────────────────────────────────────────────────
	var bot *discordbot.Bot
	var appOpts []app.Option
	if cfg.Discord.Token != "" {
		bot, err = discordbot.New(ctx, cfg.Discord)
		if err != nil {
			// The assistant still works locally without the chat bridge.
			slog.Error("discord bot unavailable, continuing without it", "err", err)
			bot = nil
		} else {
			appOpts = append(appOpts, app.WithChat(bot.Text(), bot.Voice()))
		}
	}

	application, err := app.New(ctx, cfg, providers, append(appOpts, app.WithLogLevel(levels))...)
	if err != nil {
		if bot != nil {
			_ = bot.Close()
		}
		return fmt.Errorf("initialise application: %w", err)
	}

	if bot != nil {
		orch := application.Orchestrator()
		bot.Bind(ctx, orch)
		commands.NewSriCommands(bot, orch, application.Speech()).Register(bot.Router())
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if fromFile {
		watcher, err = config.NewWatcher(opts.configPath, application.ApplyConfig,
			config.WithLoadOptions(config.WithEnv(os.LookupEnv)))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
			watcher = nil
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers, bot != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("sri ready, hold the push-to-talk key to speak and press Ctrl+C to quit", "key", cfg.Trigger.Key)

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if bot != nil {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
