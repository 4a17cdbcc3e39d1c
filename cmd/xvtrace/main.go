// Command xvtrace replays a virtual-address memory trace through the
// hierarchical TLB and its prefetchers, reporting hit rates and fault
// counts.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rv39sim/xvsim/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xvtrace: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a YAML config file (default: built-in parameters)")
	quiet := flag.Bool("quiet", false, "Suppress the progress bar")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: xvtrace [flags] <trace-file> [trace-file ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		return fmt.Errorf("no trace files given")
	}

	var cfg config.Config
	if *configPath != "" {
		cfg = config.Load(*configPath)
	} else {
		cfg = config.Default()
	}

	if len(files) == 1 {
		s, err := replayFile(files[0], cfg, *quiet)
		if err != nil {
			return err
		}
		printReport(os.Stdout, s)
		return nil
	}

	return replayBatch(files, cfg, *quiet)
}

// replayFile parses and replays a single trace file.
func replayFile(path string, cfg config.Config, quiet bool) (summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return summary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	accesses, err := parseTrace(f)
	if err != nil {
		return summary{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.Default(int64(len(accesses)), strings.TrimSuffix(path, ".trace"))
		defer bar.Close()
	}

	e := newEngine(cfg)
	e.replay(accesses, func() {
		if bar != nil {
			bar.Add(1)
		}
	})

	return summary{name: path, e: e}, nil
}

// replayBatch replays multiple trace files concurrently. Each file gets
// its own engine instance; no state is shared between them, matching
// the simulator's single-threaded-per-core concurrency model.
func replayBatch(files []string, cfg config.Config, quiet bool) error {
	results := make([]summary, len(files))

	g := new(errgroup.Group)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			s, err := replayFile(path, cfg, quiet)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range results {
		printReport(os.Stdout, s)
	}
	return nil
}
