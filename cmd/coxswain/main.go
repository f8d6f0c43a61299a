// Command coxswain is the LLM orchestration engine for the crewmatch platform.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/crewmatch/coxswain/internal/command"
	"github.com/crewmatch/coxswain/internal/config"
	"github.com/crewmatch/coxswain/internal/governor"
	"github.com/crewmatch/coxswain/internal/health"
	"github.com/crewmatch/coxswain/internal/history"
	"github.com/crewmatch/coxswain/internal/observe"
	"github.com/crewmatch/coxswain/internal/router"
	"github.com/crewmatch/coxswain/internal/session"
	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/internal/tools/mcptool"
	"github.com/crewmatch/coxswain/pkg/provider"
	"github.com/crewmatch/coxswain/pkg/provider/anyllm"
	oaitransport "github.com/crewmatch/coxswain/pkg/provider/openai"
	"github.com/crewmatch/coxswain/pkg/types"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	oneShot := flag.String("prompt", "", "run a single prompt through a session and exit")
	conversation := flag.String("conversation", "", "conversation id to resume (default: a fresh UUID)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "coxswain: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "coxswain: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("coxswain starting",
		"config", *configPath,
		"environment", cfg.Environment,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "coxswain",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transports ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinTransports(reg)
	transports, err := reg.Build(cfg)
	if err != nil {
		slog.Error("failed to build transports", "err", err)
		return 1
	}
	if len(transports) == 0 {
		slog.Warn("no provider has usable credentials; every model call will fail")
	}

	// ── Routing ───────────────────────────────────────────────────────────────
	resolver := config.NewResolver(cfg)
	rtr := router.New(resolver, transports, governor.New(governorConfig(cfg.Governor)))

	// ── History ───────────────────────────────────────────────────────────────
	var store history.Store
	var pool *pgxpool.Pool
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open history database", "err", err)
			return 1
		}
		defer pool.Close()

		pg := history.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("history migration failed", "err", err)
			return 1
		}
		store = pg
		slog.Info("history store ready", "backend", "postgres")
	} else {
		store = history.NewMemoryStore()
		slog.Info("history store ready", "backend", "memory")
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	builtins := tools.NewFuncExecutor()
	registerBuiltinOperations(builtins)

	executors := []tools.CatalogedExecutor{builtins}
	var mcpExec *mcptool.Executor
	if len(cfg.MCP.Servers) > 0 {
		mcpExec = mcptool.New()
		defer func() {
			if err := mcpExec.Close(); err != nil {
				slog.Warn("MCP shutdown error", "err", err)
			}
		}()
		for _, sc := range cfg.MCP.Servers {
			if err := mcpExec.Connect(ctx, toolServerConfig(sc)); err != nil {
				slog.Warn("MCP server unavailable; continuing without its tools",
					"server", sc.Name, "err", err)
			}
		}
		executors = append(executors, mcpExec)
	}
	executor := tools.NewMux(executors...)
	slog.Info("tool catalog assembled", "operations", len(executor.Operations()))

	// ── Sessions ──────────────────────────────────────────────────────────────
	runner := session.New(rtr,
		command.New(command.WithMetrics(metrics)),
		session.WithMetrics(metrics),
	)

	printStartupSummary(cfg, transports, executor.Operations())

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		applyReload(prev, next, level, resolver, rtr)
	})
	if err != nil {
		slog.Warn("config watcher unavailable; hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, metrics,
			readinessCheckers(resolver, pool, transports, mcpExec, len(cfg.MCP.Servers)))
		g.Go(func() error {
			slog.Info("metrics and health listener started", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	c := &cli{
		runner:   runner,
		store:    store,
		executor: executor,
		resolver: resolver,
	}
	if *oneShot != "" {
		g.Go(func() error {
			defer stop()
			return c.runOnce(gctx, *conversation, *oneShot)
		})
	} else {
		g.Go(func() error {
			defer stop()
			return c.runREPL(gctx, *conversation)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Session front-end ─────────────────────────────────────────────────────────

// cli runs sessions against stdin/stdout.
type cli struct {
	runner   *session.Runner
	store    history.Store
	executor *tools.Mux
	resolver *config.Resolver
}

// runOnce executes a single prompt and prints the final answer.
func (c *cli) runOnce(ctx context.Context, conversationID, prompt string) error {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	answer, err := c.message(ctx, conversationID, prompt)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

// runREPL reads prompts from stdin until EOF or cancellation. The line "/new"
// starts a fresh conversation.
func (c *cli) runREPL(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	fmt.Printf("coxswain %s (conversation %s, Ctrl+D to exit)\n", version, conversationID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("you> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/new" {
				conversationID = uuid.NewString()
				fmt.Printf("started conversation %s\n", conversationID)
				continue
			}
			answer, err := c.message(ctx, conversationID, line)
			if err != nil {
				slog.Error("session failed", "err", err)
				continue
			}
			fmt.Println(answer)
		}
	}
}

// message runs one full session turn for a conversation: load history, run
// the loop, persist the outcome. Session tuning is read from the current
// config snapshot so a hot reload applies from the next message on.
func (c *cli) message(ctx context.Context, conversationID, text string) (string, error) {
	prior, err := c.store.LoadTurns(ctx, conversationID)
	if err != nil {
		slog.Warn("could not load conversation history; starting fresh",
			"conversation", conversationID, "err", err)
		prior = nil
	}
	turns := append(prior, types.Turn{Role: types.RoleUser, Content: text})

	snap := c.resolver.Config()
	res, err := c.runner.RunSession(ctx, session.Request{
		SystemPrompt:    snap.Session.SystemPrompt,
		History:         turns,
		Catalog:         c.executor.Operations(),
		Executor:        c.executor,
		UseCase:         snap.Session.UseCase,
		ConversationID:  conversationID,
		Caller:          tools.Caller{ID: "cli"},
		MaxIterations:   snap.Session.MaxIterations,
		FallbackMessage: snap.Session.FallbackMessage,
	})
	if err != nil {
		return "", err
	}

	turns = append(turns, types.Turn{Role: types.RoleAssistant, Content: res.FinalText})
	if err := c.store.SaveFinal(ctx, conversationID, turns, res.FinalText); err != nil {
		slog.Warn("could not persist conversation", "conversation", conversationID, "err", err)
	}
	return res.FinalText, nil
}

// ── Transport wiring ──────────────────────────────────────────────────────────

// registerBuiltinTransports wires all built-in vendor factories into reg.
// openai gets the native SDK transport for image support; every other vendor
// goes through the any-llm universal transport.
func registerBuiltinTransports(reg *config.Registry) {
	reg.Register("openai", func(entry config.ProviderConfig) (provider.Transport, error) {
		var opts []oaitransport.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitransport.WithBaseURL(entry.BaseURL))
		}
		if entry.Organization != "" {
			opts = append(opts, oaitransport.WithOrganization(entry.Organization))
		}
		return oaitransport.New(entry.APIKey, opts...)
	})

	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.Register(name, func(entry config.ProviderConfig) (provider.Transport, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, opts...)
		})
	}

	// Local servers authenticate by endpoint, not key.
	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		reg.Register(name, func(entry config.ProviderConfig) (provider.Transport, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, opts...)
		})
	}

	for _, name := range anyllm.Supported() {
		slog.Debug("registered transport", "provider", name)
	}
}

// governorConfig maps the YAML tuning block onto the governor's config.
func governorConfig(gc config.GovernorConfig) governor.Config {
	out := governor.Config{
		DefaultLimit: governor.Limit{
			Capacity: gc.DefaultLimit.Capacity,
			Window:   gc.DefaultLimit.Window.Std(),
		},
		MaxAttempts: gc.MaxAttempts,
		BaseDelay:   gc.BaseDelay.Std(),
		CallTimeout: gc.CallTimeout.Std(),
	}
	if len(gc.Limits) > 0 {
		out.Limits = make(map[string]governor.Limit, len(gc.Limits))
		for key, lc := range gc.Limits {
			out.Limits[key] = governor.Limit{Capacity: lc.Capacity, Window: lc.Window.Std()}
		}
	}
	return out
}

// ── Tool wiring ───────────────────────────────────────────────────────────────

// registerBuiltinOperations wires the operations coxswain serves without any
// external tool server.
func registerBuiltinOperations(exec *tools.FuncExecutor) {
	exec.Register(types.Operation{
		Name:        "current_time",
		Description: "Returns the current date and time as an RFC 3339 timestamp.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, error) {
		return time.Now().Format(time.RFC3339), nil
	})
}

// toolServerConfig converts the YAML server entry into the tools package's
// connection config.
func toolServerConfig(sc config.MCPServerConfig) tools.ServerConfig {
	return tools.ServerConfig{
		Name:      sc.Name,
		Transport: sc.Transport,
		Command:   sc.Command,
		URL:       sc.URL,
		Token:     sc.Token,
		Env:       sc.Env,
	}
}

// ── HTTP listener ─────────────────────────────────────────────────────────────

// newHTTPServer assembles the metrics/health listener.
func newHTTPServer(addr string, metrics *observe.Metrics, checkers []health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// readinessCheckers builds the named probes /readyz evaluates.
func readinessCheckers(resolver *config.Resolver, pool *pgxpool.Pool, transports map[string]provider.Transport, mcpExec *mcptool.Executor, mcpConfigured int) []health.Checker {
	checkers := []health.Checker{
		{Name: "routing", Check: func(_ context.Context) error {
			_, err := resolver.Resolve(resolver.Config().Session.UseCase)
			return err
		}},
		{Name: "providers", Check: func(_ context.Context) error {
			if len(transports) == 0 {
				return errors.New("no provider has usable credentials")
			}
			return nil
		}},
	}
	if pool != nil {
		checkers = append(checkers, health.Checker{Name: "history", Check: pool.Ping})
	}
	if mcpExec != nil {
		checkers = append(checkers, health.Checker{Name: "mcp", Check: func(_ context.Context) error {
			connected := len(mcpExec.Connected())
			if connected < mcpConfigured {
				return fmt.Errorf("%d of %d MCP servers connected", connected, mcpConfigured)
			}
			return nil
		}})
	}
	return checkers
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload pushes the hot-reloadable parts of a config change into the
// running engine.
func applyReload(prev, next *config.Config, level *slog.LevelVar, resolver *config.Resolver, rtr *router.Router) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	resolver.Swap(next)

	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RoutingChanged {
		slog.Info("routing configuration changed", "environments", len(d.EnvChanges))
	}
	if d.GovernorChanged {
		rtr.SetGovernor(governor.New(governorConfig(next.Governor)))
		slog.Info("governor tuning applied; admission windows start fresh")
	}
	if d.SessionChanged {
		slog.Info("session tuning changed; applies from the next message")
	}
	for _, field := range d.RequiresRestart {
		slog.Warn("config change requires a restart to take effect", "field", field)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, transports map[string]provider.Transport, catalog []types.Operation) {
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         coxswain startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSummaryLine("Environment", cfg.Environment)
	printSummaryLine("Providers", fmt.Sprintf("%d of %d ready", len(transports), len(cfg.Providers)))
	printSummaryLine("Use case", orDefault(cfg.Session.UseCase, "(defaults)"))
	printSummaryLine("Operations", strconv.Itoa(len(catalog)))
	printSummaryLine("MCP servers", strconv.Itoa(len(cfg.MCP.Servers)))
	printSummaryLine("History", historyBackend(cfg))
	if cfg.Server.ListenAddr != "" {
		printSummaryLine("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")

	if len(names) > 0 {
		slog.Info("providers ready", "providers", strings.Join(names, ", "))
	}
}

func historyBackend(cfg *config.Config) string {
	if cfg.History.PostgresDSN != "" {
		return "postgres"
	}
	return "memory"
}

func printSummaryLine(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", key, value)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ── Logger ────────────────────────────────────────────────────────────────────

// slogLevel maps the config level onto slog's.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
