package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/coffersTech/tailstat/internal/cluster"
	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/coffersTech/tailstat/internal/registry"
	"github.com/coffersTech/tailstat/internal/server"
	"github.com/coffersTech/tailstat/internal/storage"
)

// Exit statuses.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

type options struct {
	cfg        engine.Config
	batchLimit datasize.ByteSize
	workers    int
	chunks     int
	output     string
	progress   time.Duration

	savePartials string
	combine      bool
	kSet         bool

	serve     string
	dataDir   string
	retention time.Duration
	keyHash   string
	advertise string
	join      string
	coord     bool

	nodes       string
	registryURL string
	token       string
	paths       []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	opts, err := parseFlags(args, stderr)
	if err != nil {
		var ce *engine.ConfigError
		switch {
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.As(err, &ce):
			return reportError(stderr, err)
		}
		// The flag package has already printed the problem and usage.
		return exitUsage
	}

	if opts.serve != "" {
		if err := serve(ctx, opts); err != nil {
			return reportError(stderr, err)
		}
		return exitOK
	}

	var report *engine.Report
	if opts.combine {
		report, err = combineFiles(opts)
	} else {
		report, err = analyze(ctx, opts, stdin)
	}
	if err != nil {
		return reportError(stderr, err)
	}

	if err := writeReport(stdout, report, opts.output); err != nil {
		return reportError(stderr, err)
	}
	if report.Interrupted {
		log.Printf("Interrupted: report covers %d lines read before the signal", report.TotalLines)
		return exitInterrupted
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{cfg: engine.DefaultConfig(), batchLimit: datasize.ByteSize(engine.DefaultBatchLimit)}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("tailstat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tailstat [flags] [FILE...]\n\nReads stdin when no file or \"-\" is given.\n\n")
		fs.PrintDefaults()
	}

	quantiles := fs.String("q", "0.5,0.95,0.99", "Quantiles to report (0.95, 95 or p95)")
	mode := fs.String("mode", string(engine.ModeBatch), "Estimator: batch, streaming or auto")
	buckets := fs.String("buckets", "", "Histogram bucket bounds, comma separated")
	fs.IntVar(&cfg.K, "k", engine.DefaultK, "Number of slowest requests to list")
	fs.Float64Var(&cfg.ErrorBound, "error-bound", engine.DefaultErrorBound, "Relative error bound in streaming mode")
	fs.Float64Var(&cfg.Resolution, "resolution", engine.DefaultResolution, "Smallest latency step in streaming mode")
	fs.TextVar(&opts.batchLimit, "batch-limit", opts.batchLimit, "Input size from which auto mode streams (e.g. 256MB)")
	fs.IntVar(&cfg.MinTokens, "min-tokens", 1, "Minimum number of fields per line")
	fs.StringVar(&cfg.Format, "format", engine.FormatText, "Line format: text or json")
	fs.StringVar(&cfg.JSONField, "json-field", engine.DefaultJSONField, "Latency field in json format")
	fs.StringVar(&cfg.Filter, "filter", "", `Record filter, e.g. 'f1:GET AND latency>0.5'`)

	fs.IntVar(&opts.workers, "workers", 0, "Shards analyzed concurrently (0 = GOMAXPROCS)")
	fs.IntVar(&opts.chunks, "chunks", 1, "Split each plain file into this many shards")
	fs.StringVar(&opts.output, "output", "table", "Report format: table or json")
	fs.DurationVar(&opts.progress, "progress", 0, "Log ingestion progress at this interval (0 disables)")
	fs.StringVar(&opts.savePartials, "save-partials", "", "Directory to write one .tsp snapshot per shard")
	fs.BoolVar(&opts.combine, "combine", false, "Combine .tsp snapshots given as arguments")

	fs.StringVar(&opts.serve, "serve", "", "Serve the HTTP API on this address (e.g. :8088)")
	fs.StringVar(&opts.dataDir, "data-dir", "", "Directory for stats, node ID and spooled partials")
	fs.DurationVar(&opts.retention, "retention", 168*time.Hour, "Age after which spooled partials are deleted")
	fs.StringVar(&opts.keyHash, "api-key-hash", os.Getenv("TAILSTAT_API_KEY_HASH"), "bcrypt hash of the API key")
	fs.BoolVar(&opts.coord, "coordinator", false, "Accept node registrations")
	fs.StringVar(&opts.join, "join", "", "Coordinator URL to announce this node to")
	fs.StringVar(&opts.advertise, "advertise", "", "URL other hosts reach this node at")

	fs.StringVar(&opts.nodes, "nodes", "", "Comma separated node URLs to analyze shards on")
	fs.StringVar(&opts.registryURL, "registry", "", "Coordinator URL to discover nodes from")
	fs.StringVar(&opts.token, "token", os.Getenv("TAILSTAT_TOKEN"), "API key sent to nodes")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.paths = fs.Args()
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "k" {
			opts.kSet = true
		}
	})

	qs, err := server.ParseQuantiles(*quantiles)
	if err != nil {
		return nil, err
	}
	cfg.Quantiles = qs
	cfg.Mode = engine.Mode(*mode)
	if *buckets != "" {
		for _, part := range strings.Split(*buckets, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, &engine.ConfigError{Param: "buckets", Reason: fmt.Sprintf("%q is not a number", part)}
			}
			cfg.Buckets = append(cfg.Buckets, f)
		}
	}

	switch opts.output {
	case "table", "json":
	default:
		return nil, &engine.ConfigError{Param: "output", Reason: fmt.Sprintf("unknown format %q", opts.output)}
	}
	if opts.chunks < 1 {
		return nil, &engine.ConfigError{Param: "chunks", Reason: "must be at least 1"}
	}
	if opts.combine && len(opts.paths) == 0 {
		return nil, &engine.ConfigError{Param: "combine", Reason: "no snapshot files given"}
	}
	return opts, nil
}

// reportError prints err and picks the exit status. Configuration
// mistakes name the offending parameter.
func reportError(stderr io.Writer, err error) int {
	var ce *engine.ConfigError
	switch {
	case errors.As(err, &ce):
		fmt.Fprintf(stderr, "tailstat: invalid -%s: %s\n", flagName(ce.Param), ce.Reason)
		return exitUsage
	case errors.Is(err, engine.ErrInvalidQuantile):
		fmt.Fprintf(stderr, "tailstat: invalid -q: %v\n", err)
		return exitUsage
	}
	fmt.Fprintf(stderr, "tailstat: %v\n", err)
	return exitFailure
}

func flagName(param string) string {
	switch param {
	case "quantiles":
		return "q"
	}
	return strings.ReplaceAll(param, "_", "-")
}

func analyze(ctx context.Context, opts *options, stdin io.Reader) (*engine.Report, error) {
	shards, err := storage.Shards(opts.paths, opts.chunks)
	if err != nil {
		return nil, err
	}
	for i := range shards {
		if shards[i].Name == storage.Stdin {
			shards[i].Open = func() (io.ReadCloser, error) { return io.NopCloser(stdin), nil }
			if f, ok := stdin.(*os.File); ok {
				// Unblocks a pending read when the run is cancelled.
				stopClose := context.AfterFunc(ctx, func() { f.Close() })
				defer stopClose()
			}
		}
	}

	progress := &engine.Progress{}
	runner := &engine.Runner{
		Workers:    opts.workers,
		BatchLimit: int64(opts.batchLimit.Bytes()),
		Progress:   progress,
	}

	if opts.savePartials != "" {
		writer, err := storage.NewPartialWriter()
		if err != nil {
			return nil, err
		}
		runner.SpoolDir = opts.savePartials
		runner.Flush = writer.WriteFile
	}

	nodes, err := remoteNodes(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(nodes) > 0 {
		agg, err := cluster.NewAggregator(nodes, opts.token)
		if err != nil {
			return nil, err
		}
		runner.Compute = agg.AnalyzeShard
		log.Printf("Analyzing %d shards on %d nodes", len(shards), len(agg.DataNodes))
	}

	if opts.progress > 0 {
		tickCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		progress.StartTicker(tickCtx, opts.progress, func(lines int64, rate float64) {
			log.Printf("Progress: %d lines, %.0f lines/sec", lines, rate)
		})
	}

	return runner.Run(ctx, shards, opts.cfg)
}

func remoteNodes(ctx context.Context, opts *options) ([]string, error) {
	var nodes []string
	for _, n := range strings.Split(opts.nodes, ",") {
		if n = strings.TrimSpace(n); n != "" {
			nodes = append(nodes, n)
		}
	}
	if opts.registryURL != "" {
		found, err := registry.NewClient(opts.registryURL, opts.token).Nodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover nodes: %w", err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("discover nodes: no node registered at %s", opts.registryURL)
		}
		nodes = append(nodes, found...)
	}
	return nodes, nil
}

// combineFiles merges previously saved snapshots. Snapshot files keep
// their own mode and tracker size; the quantiles come from flags, and k
// defaults to the snapshots' tracker size unless -k is given.
func combineFiles(opts *options) (*engine.Report, error) {
	reader, err := storage.NewPartialReader()
	if err != nil {
		return nil, err
	}

	partials := make([]*engine.Partial, 0, len(opts.paths))
	defer func() {
		for _, p := range partials {
			p.Release()
		}
	}()
	cfg := opts.cfg
	for i, path := range opts.paths {
		st, err := reader.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p, err := engine.RestorePartial(st, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		partials = append(partials, p)
		if !opts.kSet && (i == 0 || st.K < cfg.K) {
			cfg.K = st.K
		}
	}
	return engine.Combine(partials, cfg)
}
