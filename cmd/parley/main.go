// Command parley is the main entry point for the Parley voice translator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	discordbot "github.com/MrWong99/parley/internal/discord"
	"github.com/MrWong99/parley/internal/discord/commands"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sink"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/provider/translate/cascade"
	"github.com/MrWong99/parley/pkg/provider/translate/gemini"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	envFile := flag.String("env-file", ".env", "optional dotenv file with credentials")
	flag.Parse()

	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		ApplicationID:  cfg.Discord.ApplicationID,
		GuildID:        cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Translation backends ──────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg.Translation.CircuitBreaker)

	translator, err := app.BuildTranslator(reg, cfg.Translation)
	if err != nil {
		slog.Error("failed to build translation providers", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:          cfg.Discord.Token,
		ApplicationID:  cfg.Discord.ApplicationID,
		GuildID:        cfg.Discord.GuildID,
		ManagerRoleID:  cfg.Discord.ManagerRoleID,
		SilenceTimeout: cfg.Audio.SilenceTimeout,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}

	// ── Sinks ─────────────────────────────────────────────────────────────────
	sinks := []sink.Sink{sink.NewDiscord(bot.Session())}
	checkers := []health.Checker{health.GatewayChecker("discord", bot.Connected)}
	if translator.Breakers != nil {
		checkers = append(checkers, health.BreakerChecker("translation", translator.Breakers))
	}

	var pool *pgxpool.Pool
	if dsn := cfg.Sink.PostgresDSN; dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to create postgres pool", "err", err)
			_ = bot.Close()
			return 1
		}
		pg := sink.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate transcript table", "err", err)
			pool.Close()
			_ = bot.Close()
			return 1
		}
		sinks = append(sinks, pg)
		checkers = append(checkers, health.PingChecker("postgres", pool))
		slog.Info("transcript log enabled")
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithLogLevel(logLevel),
		app.WithCloser(bot.Close),
	}
	if pool != nil {
		opts = append(opts, app.WithCloser(func() error { pool.Close(); return nil }))
	}
	opts = append(opts, app.WithCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	}))

	application, err := app.New(cfg, app.Providers{
		Translator:     translator.Provider,
		TranslatorName: translator.Name,
		Audio:          bot.Platform(),
	}, sink.NewMulti(sinks,
		sink.WithTimeout(cfg.Sink.DeliveryTimeout),
		sink.WithMetrics(metrics),
	), opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	commands.NewTranslateCommands(
		application.Sessions(),
		bot,
		bot.Permissions(),
		cfg.Translation.DefaultTargetLanguage,
	).Register(bot.Router())

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
			application.ApplyConfig(next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── HTTP: health and metrics ──────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(checkers...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg, translator.Name)

	runErr := make(chan error, 1)
	go func() { runErr <- bot.Run(ctx) }()

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("discord bot error", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cb config.CircuitBreakerConfig) {
	// ── Translation ───────────────────────────────────────────────────────────

	reg.RegisterTranslate("gemini", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, gemini.WithTemperature(float32(t)))
		}
		return gemini.New(ctx, entry.APIKey, opts...)
	})

	// cascade chains a transcriber and a text model, each built from its
	// own nested provider block with optional fallbacks.
	reg.RegisterTranslate("cascade", func(entry config.ProviderEntry) (translate.Provider, error) {
		if entry.STT == nil || entry.LLM == nil {
			return nil, errors.New("cascade requires stt and llm blocks")
		}
		transcriber, err := app.BuildSTT(reg, *entry.STT, cb)
		if err != nil {
			return nil, err
		}
		model, err := app.BuildLLM(reg, *entry.LLM, cb)
		if err != nil {
			return nil, err
		}
		var opts []cascade.Option
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, cascade.WithTemperature(t))
		}
		return cascade.New(transcriber, model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining text models share one pattern: optional APIKey and
	// optional BaseURL. ollama and the llama servers only need the URL.
	for _, providerName := range anyllm.SupportedProviders {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"translate", "stt", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, translator string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Parley: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Translator", translator)
	printRow("Default lang", cfg.Translation.DefaultTargetLanguage)
	printRow("Audio", fmt.Sprintf("%d Hz → %d Hz", cfg.Audio.SourceSampleRate, cfg.Audio.TargetSampleRate))
	gate := cfg.Audio.Gate()
	if gate.Enabled {
		printRow("VAD", fmt.Sprintf("on (%.0f)", gate.Threshold))
	} else {
		printRow("VAD", "off")
	}
	if cfg.Sink.PostgresDSN != "" {
		printRow("Transcripts", "postgres")
	} else {
		printRow("Transcripts", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
