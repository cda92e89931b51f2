// aiaudit is an LLM-driven static security auditor. It runs one audit
// from the command line or serves the HTTP status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/api"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/cache"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/llm"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/metrics"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/orchestrator"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/report"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/version"
)

// Exit codes per the CLI contract.
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 2
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type cliOptions struct {
	configDir    string
	output       string
	template     string
	maxFiles     int
	all          bool
	noCrossFile  bool
	noFrontend   bool
	noConfidence bool
	noFilter     bool
	includeExts  string
	excludeExts  string
	includePaths string
	excludePaths string
	minConf      float64
	maxConf      float64
	quick        bool
	debug        bool
	dryRun       bool
	quiet        bool
	verbose      bool
	serve        bool
	serveAddr    string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts cliOptions
	flag.StringVar(&opts.configDir, "config-dir", getEnv("CONFIG_DIR", "./config"), "Path to configuration directory")
	flag.StringVar(&opts.output, "output", "audit-report.json", "Report output path; a Markdown twin is derived from it")
	flag.StringVar(&opts.template, "template", "", "Analysis template name")
	flag.IntVar(&opts.maxFiles, "max-files", 0, "Limit the number of analyzed files (0 uses the configured default)")
	flag.BoolVar(&opts.all, "all", false, "Analyze every discovered file")
	flag.BoolVar(&opts.noCrossFile, "no-cross-file", false, "Disable cross-file follow-up analysis")
	flag.BoolVar(&opts.noFrontend, "no-frontend-opt", false, "Disable the frontend optimizer")
	flag.BoolVar(&opts.noConfidence, "no-confidence-calc", false, "Disable confidence rescoring")
	flag.BoolVar(&opts.noFilter, "no-filter", false, "Disable file filtering")
	flag.StringVar(&opts.includeExts, "include-extensions", "", "Comma-separated extension allowlist (e.g. .py,.java)")
	flag.StringVar(&opts.excludeExts, "exclude-extensions", "", "Comma-separated extension blocklist")
	flag.StringVar(&opts.includePaths, "include-paths", "", "Comma-separated path prefix allowlist")
	flag.StringVar(&opts.excludePaths, "exclude-paths", "", "Comma-separated path prefix blocklist")
	flag.Float64Var(&opts.minConf, "min-confidence", 0, "Drop findings below this confidence")
	flag.Float64Var(&opts.maxConf, "max-confidence", 0, "Drop findings above this confidence")
	flag.BoolVar(&opts.quick, "quick", false, "Quick scan: fewer files, no cross-file analysis")
	flag.BoolVar(&opts.debug, "debug", false, "Debug logging")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Discover and filter only; no LLM calls")
	flag.BoolVar(&opts.quiet, "quiet", false, "Log warnings and errors only")
	flag.BoolVar(&opts.verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP status API instead of a one-shot audit")
	flag.StringVar(&opts.serveAddr, "serve-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP API listen address")
	flag.Parse()

	setupLogging(&opts)

	// Load .env from the config directory; absence is not an error.
	envPath := filepath.Join(opts.configDir, ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting aiaudit",
		"version", version.Full(),
		"config_dir", opts.configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, opts.configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		return exitError
	}

	// 2. Open the result cache
	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("Failed to open result cache", "error", err)
		return exitError
	}
	defer resultCache.Close()

	// 3. Build the LLM manager
	manager, err := llm.NewManager(cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM manager", "error", err)
		return exitError
	}
	defer manager.Close()
	manager.SetCache(resultCache)

	// 4. Create the orchestrator
	orch := orchestrator.New(cfg, manager)

	if opts.serve {
		return serveAPI(ctx, orch, opts.serveAddr)
	}

	projectPath := flag.Arg(0)
	if projectPath == "" {
		fmt.Fprintln(os.Stderr, "usage: aiaudit [flags] <project-path>")
		flag.PrintDefaults()
		return exitError
	}
	return runAudit(ctx, orch, projectPath, &opts)
}

func runAudit(ctx context.Context, orch *orchestrator.Orchestrator, projectPath string, opts *cliOptions) int {
	auditOpts := orchestrator.Options{
		MaxFiles:      opts.maxFiles,
		All:           opts.all,
		Template:      opts.template,
		DryRun:        opts.dryRun,
		NoFilter:      opts.noFilter,
		NoCrossFile:   opts.noCrossFile || opts.quick,
		NoFrontendOpt: opts.noFrontend,
		NoConfidence:  opts.noConfidence,
		MinConfidence: opts.minConf,
		MaxConfidence: opts.maxConf,
		IncludeExts:   splitList(opts.includeExts),
		ExcludeExts:   splitList(opts.excludeExts),
		IncludePaths:  splitList(opts.includePaths),
		ExcludePaths:  splitList(opts.excludePaths),
	}
	if opts.quick && auditOpts.MaxFiles == 0 && !opts.all {
		auditOpts.MaxFiles = 20
	}
	if opts.verbose {
		auditOpts.OnProgress = func(p models.Progress) {
			fmt.Fprintf(os.Stderr, "\r%d/%d analyzed, %d failed, %d skipped  %s",
				p.AnalyzedFiles, p.TotalFiles, p.FailedFiles, p.SkippedFiles, p.CurrentFile)
		}
	}

	session, err := orch.StartAudit(ctx, projectPath, auditOpts)
	if err != nil {
		slog.Error("Failed to start audit", "error", err)
		return exitError
	}

	// Forward the interrupt to the session so workers unwind cleanly.
	go func() {
		<-ctx.Done()
		_ = orch.Cancel(session.ID)
	}()
	orch.Wait(session.ID)
	if opts.verbose {
		fmt.Fprintln(os.Stderr)
	}

	snapshot, err := orch.Session(session.ID)
	if err != nil {
		slog.Error("Session vanished", "error", err)
		return exitError
	}

	switch snapshot.Status {
	case models.SessionStatusCancelled:
		slog.Warn("Audit cancelled")
		return exitCancelled
	case models.SessionStatusFailed:
		slog.Error("Audit failed", "errors", strings.Join(snapshot.Errors, "; "))
		return exitError
	}

	stats, _ := orch.Stats(session.ID)
	cov, _ := orch.CoverageReport(session.ID)
	rep := report.Build(snapshot, stats, cov)
	if err := rep.WriteJSON(opts.output); err != nil {
		slog.Error("Failed to write report", "error", err)
		return exitError
	}
	mdPath := report.MarkdownPath(opts.output)
	if err := rep.WriteMarkdown(mdPath); err != nil {
		slog.Error("Failed to write Markdown report", "error", err)
		return exitError
	}

	if !opts.quiet {
		fmt.Printf("Audit complete: %d finding(s), risk score %.1f/10, coverage %.1f%%\n",
			stats.Total, stats.RiskScore, cov.CoveragePct)
		fmt.Printf("Reports: %s, %s\n", opts.output, mdPath)
	}
	return exitOK
}

func serveAPI(ctx context.Context, orch *orchestrator.Orchestrator, addr string) int {
	server := api.New(addr, orch, metrics.New())
	if err := server.Start(ctx); err != nil {
		slog.Error("API server failed", "error", err)
		return exitError
	}
	return exitOK
}

func setupLogging(opts *cliOptions) {
	level := slog.LevelInfo
	switch {
	case opts.debug:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelWarn
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		_ = level.UnmarshalText([]byte(env))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
