// greyhound downloads the points of a pipeline from a greyhound server.
//
// It opens a session, prints the dataset bounds, splits them into regions
// and fetches the regions over several connections, optionally storing
// each one (compressed) next to a manifest.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/codefionn/greyhound/internal/config"
	"github.com/codefionn/greyhound/internal/download"
	"github.com/codefionn/greyhound/internal/logger"
	"github.com/codefionn/greyhound/internal/pprof"
	"github.com/codefionn/greyhound/internal/reader"
	"github.com/codefionn/greyhound/internal/readqueue"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
	statsOnly  bool
	saveConfig bool
	noColor    bool
	profile    pprof.Config
}

// parseArgs loads the config file and applies the environment, then the
// flags the user actually set.
func parseArgs(args []string) (*config.Config, *cliOptions, error) {
	var opts cliOptions
	defaults := config.Default()

	fs := pflag.NewFlagSet("greyhound", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "path to the TOML config file")
	host := fs.String("host", defaults.Host, "server address as host[:port]")
	pipeline := fs.String("pipeline", "", "pipeline id")
	workers := fs.IntP("workers", "w", defaults.Workers, "parallel connections")
	depth := fs.IntP("depth", "d", defaults.Depth, "quad-split levels of the dataset bounds")
	depthBegin := fs.Int("depth-begin", defaults.DepthBegin, "first index depth to read (0 = unset)")
	depthEnd := fs.Int("depth-end", defaults.DepthEnd, "index depth to stop at (0 = unset)")
	schemaNames := fs.StringSlice("schema", nil, "channels to read, e.g. X,Y,Z,Intensity or Name:type:size")
	output := fs.StringP("output", "o", "", "directory for regions and manifest.json")
	compression := fs.String("compression", defaults.Compression, "none, lz4, zstd, bg4_lz4 or auto")
	logLevel := fs.String("log-level", defaults.LogLevel, "debug, info, warn, error or none")
	logPath := fs.String("log-path", defaults.LogPath, "log file, - for stderr")
	connectTimeout := fs.Duration("connect-timeout", defaults.ConnectTimeout, "websocket handshake timeout")
	fs.BoolVar(&opts.statsOnly, "stats-only", false, "print the dataset bounds and exit")
	fs.BoolVar(&opts.saveConfig, "save-config", false, "write the effective config to --config and exit")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	fs.StringVar(&opts.profile.CPUProfile, "cpuprofile", "", "write a CPU profile to this file")
	fs.StringVar(&opts.profile.HeapProfile, "memprofile", "", "write a heap profile to this file on exit")
	fs.StringVar(&opts.profile.HTTPAddr, "pprof-addr", "", "serve /debug/pprof on this address")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: greyhound [flags] [workers]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnv()

	if fs.Changed("host") {
		cfg.Host = *host
	}
	if fs.Changed("pipeline") {
		cfg.Pipeline = *pipeline
	}
	if fs.Changed("workers") {
		cfg.Workers = *workers
	}
	if fs.Changed("depth") {
		cfg.Depth = *depth
	}
	if fs.Changed("depth-begin") {
		cfg.DepthBegin = *depthBegin
	}
	if fs.Changed("depth-end") {
		cfg.DepthEnd = *depthEnd
	}
	if fs.Changed("schema") {
		cfg.Schema = *schemaNames
	}
	if fs.Changed("output") {
		cfg.OutputDir = *output
	}
	if fs.Changed("compression") {
		cfg.Compression = *compression
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-path") {
		cfg.LogPath = *logPath
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = *connectTimeout
	}

	// a bare positional number is the worker count
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, nil, fmt.Errorf("unexpected argument %q", rest[0])
		}
		cfg.Workers = n
	default:
		return nil, nil, fmt.Errorf("unexpected arguments %v", rest[1:])
	}

	return cfg, &opts, nil
}

func run(args []string) (err error) {
	cfg, opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.noColor {
		color.NoColor = true
	}

	if opts.saveConfig {
		if err := cfg.Save(opts.configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Config written to %s\n", opts.configPath)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("greyhound starting: host=%s pipeline=%s workers=%d", cfg.Host, cfg.Pipeline, cfg.Workers)

	if opts.profile.Enabled() {
		prof, err := pprof.Start(opts.profile)
		if err != nil {
			return err
		}
		defer func() {
			if err := prof.Stop(); err != nil {
				logger.Warn("failed to write profiles: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return fetch(ctx, cfg, opts)
}

func fetch(ctx context.Context, cfg *config.Config, opts *cliOptions) error {
	readSchema, err := cfg.ReadSchema()
	if err != nil {
		return err
	}
	clientOpts := []reader.Option{reader.WithConfig(cfg.ProtocolConfig())}

	client, err := reader.New(cfg.Host, clientOpts...)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println(color.CyanString("Creating session:"))
	session, err := client.CreateSession(ctx, cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("could not create session: %w", err)
	}
	fmt.Printf("    :Session created! %s\n", session)
	defer func() {
		// the run context may already be cancelled
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Destroy(dctx, session); err != nil {
			logger.Warn("failed to destroy session %s: %v", session, err)
		}
	}()

	fmt.Println(color.CyanString("Stats:"))
	st, err := client.GetStats(ctx, session)
	if err != nil {
		return fmt.Errorf("could not query stats: %w", err)
	}
	box, err := st.BBox()
	if err != nil {
		return fmt.Errorf("could not read bounds: %w", err)
	}
	mins, maxs := box.Mins(), box.Maxs()
	fmt.Printf("    :Mins: %v\n", mins)
	fmt.Printf("    :Maxs: %v\n", maxs)
	if opts.statsOnly {
		return nil
	}

	regions, err := download.Plan(box, cfg.Depth)
	if err != nil {
		return err
	}
	addr := client.Host() + ":" + strconv.Itoa(client.Port())
	readers := make([]readqueue.Reader, cfg.Workers)
	for i := range readers {
		c, err := reader.New(addr, clientOpts...)
		if err != nil {
			return err
		}
		defer c.Close()
		readers[i] = c
	}
	fmt.Printf("Downloading total: %d regions with %d readers.\n", len(regions), len(readers))

	var sink download.Sink
	var dirSink *download.DirSink
	if cfg.OutputDir != "" {
		tag, auto, err := cfg.Codec()
		if err != nil {
			return err
		}
		dirSink, err = download.NewDirSink(cfg.OutputDir, download.DirSinkOptions{
			Session:     session,
			Schema:      readSchema,
			DepthBegin:  cfg.DepthBegin,
			DepthEnd:    cfg.DepthEnd,
			Compression: tag,
			Auto:        auto,
		})
		if err != nil {
			return err
		}
		sink = dirSink
	}

	meter := newMeter(os.Stdout, len(regions))
	started := time.Now()
	sum, runErr := download.Run(ctx, download.Options{
		Session:    session,
		Readers:    readers,
		Regions:    regions,
		Schema:     readSchema,
		DepthBegin: cfg.DepthBegin,
		DepthEnd:   cfg.DepthEnd,
		Sink:       sink,
		OnRegion:   meter.region,
		Logger:     logger.Slog(logger.Global().WithPrefix("download")),
	})
	meter.finish()

	if dirSink != nil {
		if err := dirSink.Close(); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
		fmt.Printf("Wrote %s\n", color.GreenString(dirSink.Dir()))
	}
	if sum != nil {
		printSummary(sum, time.Since(started))
	}
	if runErr != nil {
		if sum == nil {
			return runErr
		}
		return fmt.Errorf("%d of %d regions failed: %w", len(sum.Failed), len(regions), runErr)
	}
	fmt.Println(color.GreenString("All tasks completed!"))
	return nil
}

func printSummary(sum *download.Summary, elapsed time.Duration) {
	status := color.GreenString("ok")
	if len(sum.Failed) > 0 {
		status = color.RedString("%d failed", len(sum.Failed))
	}
	fmt.Printf("Regions: %d (%s)  Points: %d  Bytes: %s  Time: %s\n",
		sum.Regions, status, sum.Points, formatBytes(sum.Bytes), elapsed.Round(time.Millisecond))
}
