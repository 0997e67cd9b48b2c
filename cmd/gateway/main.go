// Command gateway is the orkestra process entrypoint: it wires config,
// persona catalog, provider stack, tool registry, execution engine, and the
// WebSocket surface together and runs them until interrupted.
//
// Grounded on the teacher's cmd/oasis/main.go (flag/env config read, single
// functional-options agent.New, signal.NotifyContext shutdown), widened to
// a cobra command tree per vanducng-goclaw/cmd/root.go's subcommand
// pattern, since this gateway needs serve/migrate/persona-validate rather
// than the teacher's single bare binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/a2a"
	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/backoff"
	"github.com/ashgrove-labs/orkestra/breaker"
	"github.com/ashgrove-labs/orkestra/dispatch"
	"github.com/ashgrove-labs/orkestra/engine"
	"github.com/ashgrove-labs/orkestra/gateway"
	"github.com/ashgrove-labs/orkestra/internal/config"
	"github.com/ashgrove-labs/orkestra/observability"
	"github.com/ashgrove-labs/orkestra/persona"
	"github.com/ashgrove-labs/orkestra/provider/gemini"
	"github.com/ashgrove-labs/orkestra/scheduler"
	"github.com/ashgrove-labs/orkestra/store/sqlite"
	"github.com/ashgrove-labs/orkestra/toolkit"
	"github.com/ashgrove-labs/orkestra/toolkit/codeintel"
	"github.com/ashgrove-labs/orkestra/toolkit/diffutil"
	"github.com/ashgrove-labs/orkestra/toolkit/file"
	"github.com/ashgrove-labs/orkestra/toolkit/pdf"
	"github.com/ashgrove-labs/orkestra/toolkit/search"
	"github.com/ashgrove-labs/orkestra/toolkit/shell"
	"github.com/ashgrove-labs/orkestra/toolkit/vision"
	"github.com/ashgrove-labs/orkestra/toolkit/web"
	"github.com/ashgrove-labs/orkestra/watchdog"
)

var (
	cfgPath string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "orkestra — multi-agent Gemini orchestration gateway",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: orkestra.toml or $ORKESTRA_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd(), migrateCmd(), personaCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if v := os.Getenv("ORKESTRA_CONFIG"); v != "" {
		return v
	}
	return "orkestra.toml"
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway, scheduler, and background watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create any missing tables in the sqlite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(resolveConfigPath())
			logger := newLogger()
			st := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
			defer st.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := st.Init(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Printf("schema up to date: %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func personaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Persona catalog utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Parse the persona catalog and report what would be loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(resolveConfigPath())
			store := persona.NewStore(cfg.Persona.ConfigPath)
			if err := store.Reload(cmd.Context()); err != nil {
				return err
			}
			snap := store.Snapshot()
			if len(snap) == 0 {
				fmt.Printf("no personas loaded from %s\n", cfg.Persona.ConfigPath)
				return nil
			}
			for _, p := range snap {
				fmt.Printf("%-20s %-24s tier=%-8s keywords=%s\n", p.ID, p.Name, p.Tier, strings.Join(p.Keywords, ","))
			}
			return nil
		},
	})
	return cmd
}

func runServe(parent context.Context) error {
	cfg := config.Load(resolveConfigPath())
	logger := newLogger()

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("serve: LLM API key not set (config llm.api_key or ORKESTRA_LLM_API_KEY)")
	}
	cred := assemble.Credential{Value: cfg.LLM.APIKey}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	tracer, shutdownTracing, err := observability.Init(ctx, "orkestra-gateway")
	if err != nil {
		logger.Warn("tracing disabled: exporter setup failed", "error", err)
		tracer = nil
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	personaStore := persona.NewStore(cfg.Persona.ConfigPath)
	if err := personaStore.Reload(ctx); err != nil {
		return fmt.Errorf("serve: load persona catalog: %w", err)
	}

	db := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	defer db.Close()
	if err := db.Init(ctx); err != nil {
		return fmt.Errorf("serve: init database: %w", err)
	}

	newProvider := func(model string, cred assemble.Credential) orkestra.Provider {
		g := gemini.New(cred.Value, model,
			gemini.WithFunctionCalling(true),
			gemini.WithGoogleSearch(true),
			gemini.WithURLContext(true),
			gemini.WithThinkingLevelField(strings.HasPrefix(model, "gemini-3")),
		)
		return breaker.Wrap(backoff.Wrap(g, logger))
	}

	// The vision tool's Analyzer needs a plain (undecorated) one-shot
	// multimodal call, not the conversational ChatStream loop the breaker/
	// backoff decorators assume — use the flash tier directly.
	visionAnalyzer := gemini.New(cred.Value, cfg.LLM.FlashTier)

	tools := toolkit.NewRegistry()
	tools.Add(file.New(cfg.Workspace.Path))
	tools.Add(shell.New(cfg.Workspace.Path, 30))
	tools.Add(web.New())
	tools.Add(search.New(cfg.Workspace.Path))
	tools.Add(pdf.New(cfg.Workspace.Path))
	tools.Add(vision.New(cfg.Workspace.Path, visionAnalyzer))
	tools.Add(codeintel.New(cfg.Workspace.Path))
	tools.Add(diffutil.New(cfg.Workspace.Path))

	// resolver closes over e, assigned below once Engine exists — safe
	// because the resolver is only ever invoked from inside a live Run
	// call, never during construction.
	var e *engine.Engine
	resolver := dispatch.AgentResolver(func(target string) (orkestra.Agent, bool) {
		for _, p := range personaStore.Snapshot() {
			if p.ID == target {
				return &engine.PersonaAgent{Engine: e, PersonaID: target, Credential: cred}, true
			}
		}
		return nil, false
	})

	e = engine.New(engine.Config{
		Personas:           personaStore.Snapshot(),
		DefaultPersonaID:   cfg.Persona.DefaultID,
		GlobalDefaultModel: cfg.LLM.DefaultModel,
		FlashModel:         cfg.LLM.FlashTier,
		ThinkingModel:      cfg.LLM.ThinkingTier,
		ClassifierLLM:      newProvider(cfg.LLM.FlashTier, cred),
		Tools:              tools,
		Agents:             resolver,
		NewProvider:        newProvider,
		Store:              db,
		Cache:              assemble.NewCache(512),
		RenderSystemPrompt: renderSystemPrompt,
		DefaultCredential:  cred,
		Logger:             logger,
		Tracer:             tracer,
	})

	wd := watchdog.New(watchdog.Config{
		RefreshCache: personaStore.Reload,
		Providers:    e.Providers,
		Logger:       logger,
	})
	wd.Start()
	defer wd.Stop(context.Background())

	sched := scheduler.New(scheduler.Config{
		Store:      db,
		Sessions:   db,
		Dispatcher: dispatch.New(tools, resolver),
		Provider:   newProvider(cfg.LLM.FlashTier, cred),
		Logger:     logger,
	})
	go sched.Run(ctx)

	srv := gateway.NewServer(gateway.Config{
		Engine:         e,
		Agents:         resolver,
		Credential:     cred,
		AllowedOrigins: nil,
		Addr:           cfg.Server.Addr,
		Logger:         logger,
	})

	// The A2A interop surface shares the gateway's listener and mux rather
	// than binding its own port — BuildMux is idempotent, so routes
	// registered here are present by the time Start calls it again.
	a2aHandler := a2a.NewHandler(e, cred, personaStore.Snapshot, logger)
	a2aHandler.URL = "http://" + cfg.Server.Addr
	a2aHandler.RegisterRoutes(srv.BuildMux())

	logger.Info("orkestra gateway starting", "addr", cfg.Server.Addr)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("orkestra gateway stopped")
	return nil
}

// renderSystemPrompt builds the system prompt for a persona that did not
// set SystemPromptOverride: role and description frame the persona, the
// language tag (when set) asks the model to reply in that language rather
// than mirroring the prompt's own.
func renderSystemPrompt(p orkestra.Persona, languageTag string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, ", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, "responsible for %s. ", p.Role)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "%s ", p.Description)
	}
	b.WriteString("Use the available tools when they help answer accurately; otherwise answer directly.")
	if languageTag != "" {
		fmt.Fprintf(&b, " Reply in %s regardless of the language used elsewhere in this conversation.", languageTag)
	}
	return b.String()
}
