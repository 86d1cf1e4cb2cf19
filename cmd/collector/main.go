package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"panorama/internal/collector"
	"panorama/internal/config"
	"panorama/internal/fetch"
	"panorama/internal/logging"
	"panorama/internal/model"
	"panorama/internal/providers"
	"panorama/internal/providers/bcb"
	"panorama/internal/providers/sidra"
	"panorama/internal/sources"
	"panorama/internal/store"
	"panorama/internal/store/sqlite"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(run(os.Args[2:]))
	case "list":
		os.Exit(list(os.Args[2:]))
	default:
		usage()
		os.Exit(exitUsage)
	}
}

type runOptions struct {
	sourceIDs   []string
	all         bool
	outputDir   string
	start       string
	end         string
	dbPath      string
	sourcesFile string
	timeout     int
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sourceIDs := fs.String("source", "", "comma-separated source ids")
	all := fs.Bool("all", false, "collect every known source")
	outputDir := fs.String("out", "", "output directory (default: PANORAMA_OUTPUT_DIR or data/raw)")
	start := fs.String("start", "", "start date YYYY-MM-DD (default: PANORAMA_START_DATE or 2002-01-01)")
	end := fs.String("end", "", "end date YYYY-MM-DD (default: today)")
	dbPath := fs.String("db", "", "sqlite ledger path (empty disables the ledger)")
	sourcesFile := fs.String("sources", "", "JSON file with extra source definitions")
	envFile := fs.String("env", ".env", "dotenv file to load")
	timeout := fs.Int("timeout", 0, "request timeout in seconds")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	opts := runOptions{
		sourceIDs:   parseList(*sourceIDs),
		all:         *all,
		outputDir:   *outputDir,
		start:       *start,
		end:         *end,
		dbPath:      *dbPath,
		sourcesFile: *sourcesFile,
		timeout:     *timeout,
	}
	if !opts.all && len(opts.sourceIDs) == 0 {
		fmt.Fprintln(os.Stderr, "collector run: -source or -all is required")
		usage()
		return exitUsage
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		return exitUsage
	}
	cfg, err = applyFlags(cfg, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runCollector(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("collector run failed", zap.Error(err))
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var usageErr usageError
	if errors.As(err, &usageErr) {
		return exitUsage
	}
	return exitFailure
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func runCollector(ctx context.Context, cfg config.Config, opts runOptions, logger *zap.Logger) error {
	specs, err := resolveSources(cfg, opts)
	if err != nil {
		return usageError{err}
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	c := collector.New(registry, logger, collector.WithStore(st))
	logger.Info("collection started",
		zap.Int("sources", len(specs)),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("start", cfg.StartDate),
		zap.String("end", cfg.EndDate),
	)
	summary := c.CollectAll(ctx, specs, cfg.OutputDir)

	logger.Info("collection finished",
		zap.Int("saved", len(summary.Results)),
		zap.Strings("empty", summary.Empty),
		zap.Int("failed", len(summary.Errors)),
	)
	return summary.Err()
}

func applyFlags(cfg config.Config, opts runOptions) (config.Config, error) {
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if opts.start != "" {
		cfg.StartDate = opts.start
	}
	if opts.end != "" {
		cfg.EndDate = opts.end
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.sourcesFile != "" {
		cfg.SourcesFile = opts.sourcesFile
	}
	if opts.timeout > 0 {
		cfg.Timeout = time.Duration(opts.timeout) * time.Second
	}
	return cfg, cfg.Validate()
}

func resolveSources(cfg config.Config, opts runOptions) ([]model.SourceSpec, error) {
	set, err := loadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	ids := opts.sourceIDs
	if opts.all {
		ids = nil
	}
	specs, err := sources.Select(set, ids)
	if err != nil {
		return nil, err
	}
	for i := range specs {
		specs[i] = sources.WithRange(specs[i], cfg.StartDate, cfg.EndDate)
	}
	return specs, nil
}

func loadSources(path string) (map[string]model.SourceSpec, error) {
	set := sources.Builtin()
	if strings.TrimSpace(path) == "" {
		return set, nil
	}
	extra, err := sources.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return sources.Merge(set, extra), nil
}

func buildRegistry(cfg config.Config, logger *zap.Logger) (providers.Registry, error) {
	client := fetch.NewClient(fetch.Options{
		Timeout:         cfg.Timeout,
		UserAgent:       cfg.UserAgent,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		Logger:          logger,
	})
	bcbProvider, err := bcb.New(bcb.Config{
		BaseURL:     cfg.BCBBaseURL,
		WindowYears: cfg.BCBWindowYears,
	}, client)
	if err != nil {
		return nil, err
	}
	sidraProvider, err := sidra.New(sidra.Config{BaseURL: cfg.SIDRABaseURL}, client)
	if err != nil {
		return nil, err
	}
	return providers.NewRegistry(bcbProvider, sidraProvider), nil
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func list(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	sourcesFile := fs.String("sources", "", "JSON file with extra source definitions")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	set, err := loadSources(*sourcesFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector list failed:", err)
		return exitFailure
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		spec := set[id]
		fmt.Printf("%-12s %-6s %-48s %s\n", spec.ID, spec.Provider, spec.Output, spec.Description)
	}
	return exitOK
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collector <run|list> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "run options:")
	fmt.Fprintln(os.Stderr, "  -source    comma-separated source ids (see collector list)")
	fmt.Fprintln(os.Stderr, "  -all       collect every known source")
	fmt.Fprintln(os.Stderr, "  -out       output directory (default: data/raw)")
	fmt.Fprintln(os.Stderr, "  -start     start date YYYY-MM-DD (default: 2002-01-01)")
	fmt.Fprintln(os.Stderr, "  -end       end date YYYY-MM-DD (default: today)")
	fmt.Fprintln(os.Stderr, "  -db        sqlite ledger path (default: disabled)")
	fmt.Fprintln(os.Stderr, "  -sources   JSON file with extra source definitions")
	fmt.Fprintln(os.Stderr, "  -env       dotenv file (default: .env)")
	fmt.Fprintln(os.Stderr, "  -timeout   request timeout in seconds (default: 90)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "list options:")
	fmt.Fprintln(os.Stderr, "  -sources   JSON file with extra source definitions")
}

func parseList(value string) []string {
	raw := strings.Split(value, ",")
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		items = append(items, trimmed)
	}
	return items
}
