package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scanlab/bulkscan/internal/config"
	"github.com/scanlab/bulkscan/internal/feature"
	"github.com/scanlab/bulkscan/internal/image"
	"github.com/scanlab/bulkscan/internal/phase1"
	"github.com/scanlab/bulkscan/internal/report"
	"github.com/scanlab/bulkscan/internal/scanner"
	"github.com/scanlab/bulkscan/internal/scanner/scanners"
)

var scanFlags struct {
	configPath string
	outputDir  string
	threads    int
	pageSize   int
	margin     int

	sampling string
	seed     int64

	offsetStart uint64
	offsetEnd   uint64
	pageStart   uint64

	notifyRate       int
	quiet            bool
	reportReadErrors bool
	noHash           bool

	maxWait      int
	retrySeconds int
	maxBadAlloc  int

	sqlite   bool
	maxDepth int
}

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Run the full read-scan-recurse pass over an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}

		img, err := image.Open(args[0], cfg.Image())
		if err != nil {
			return err
		}
		defer img.Close()

		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		var recorder feature.Recorder
		if cfg.SQLite {
			recorder, err = feature.NewSQLiteRecorder(filepath.Join(cfg.OutputDir, "features.db"))
		} else {
			recorder, err = feature.NewFileRecorder(cfg.OutputDir)
		}
		if err != nil {
			return err
		}

		reportFile, err := os.Create(filepath.Join(cfg.OutputDir, "report.xml"))
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer reportFile.Close()

		rep := report.New(reportFile)
		rep.Push("bulkscan_report",
			report.Attr("version", version)+" "+report.Attr("run_id", uuid.NewString()))
		rep.Emit("start_time", time.Now().Format(time.RFC3339), "", false)

		set := scanner.NewSet(cfg.Scanner(), recorder)
		set.Register(scanners.NewGzip(cfg.GzipMaxUncompressed))
		set.Register(scanners.NewZlib(cfg.GzipMaxUncompressed))
		set.Register(scanners.NewEmail())
		set.Init(ctx)

		if !cfg.Quiet {
			printScanHeader(img, cfg, set)
		}

		runErr := phase1.Run(ctx, img, set, cfg.Phase1(), rep)

		set.Shutdown(ctx)
		if err := recorder.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close feature store: %v\n", err)
		}
		if err := rep.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush report: %v\n", err)
		}
		if runErr != nil {
			return runErr
		}

		if !cfg.Quiet {
			printScanSummary(cfg, recorder)
		}
		return nil
	},
}

// buildConfig layers defaults, the optional config file, environment
// overrides, then explicit flags, and validates the result.
func buildConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	var err error
	if scanFlags.configPath != "" {
		cfg, err = config.Load(scanFlags.configPath)
		if err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	flagWasSet := cmd.Flags().Changed
	if flagWasSet("output") {
		cfg.OutputDir = scanFlags.outputDir
	}
	if flagWasSet("threads") {
		cfg.NumThreads = scanFlags.threads
	}
	if flagWasSet("page-size") {
		cfg.PageSize = scanFlags.pageSize
	}
	if flagWasSet("margin") {
		cfg.Margin = scanFlags.margin
	}
	if flagWasSet("offset-start") {
		cfg.OffsetStart = scanFlags.offsetStart
	}
	if flagWasSet("offset-end") {
		cfg.OffsetEnd = scanFlags.offsetEnd
	}
	if flagWasSet("page-start") {
		cfg.PageStart = scanFlags.pageStart
	}
	if flagWasSet("notify-rate") {
		cfg.NotifyRate = scanFlags.notifyRate
	}
	if flagWasSet("quiet") {
		cfg.Quiet = scanFlags.quiet
	}
	if flagWasSet("report-read-errors") {
		cfg.ReportReadErrors = scanFlags.reportReadErrors
	}
	if flagWasSet("no-hash") {
		cfg.DisableHash = scanFlags.noHash
	}
	if flagWasSet("max-wait") {
		cfg.MaxWaitTime = scanFlags.maxWait
	}
	if flagWasSet("retry-seconds") {
		cfg.RetrySeconds = scanFlags.retrySeconds
	}
	if flagWasSet("max-bad-alloc") {
		cfg.MaxBadAllocErrors = scanFlags.maxBadAlloc
	}
	if flagWasSet("sqlite") {
		cfg.SQLite = scanFlags.sqlite
	}
	if flagWasSet("max-recursion-depth") {
		cfg.MaxRecursionDepth = scanFlags.maxDepth
	}
	if flagWasSet("seed") {
		cfg.SamplingSeed = scanFlags.seed
	}
	if scanFlags.sampling != "" {
		frac, passes, err := config.ParseSampling(scanFlags.sampling)
		if err != nil {
			return cfg, err
		}
		cfg.SamplingFraction = frac
		cfg.SamplingPasses = passes
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func printScanHeader(img *image.Image, cfg config.Config, set *scanner.Set) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("=== bulkscan "+version+" ==="))
	fmt.Printf("  Image:    %s (%d bytes, %d pages of %d)\n",
		img.Filename(), img.Size(), img.MaxBlocks(), img.PageSize())
	fmt.Printf("  Threads:  %d\n", cfg.NumThreads)
	fmt.Printf("  Scanners: %s\n", strings.Join(set.Names(), ", "))
	if cfg.SamplingFraction > 0 {
		fmt.Printf("  Sampling: %g over %d pass(es)\n", cfg.SamplingFraction, cfg.SamplingPasses)
	}
	fmt.Println()
}

func printScanSummary(cfg config.Config, recorder feature.Recorder) {
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s Scan complete. Output in %s\n", green("✓"), cfg.OutputDir)
	stats := recorder.Stats()
	if len(stats) == 0 {
		fmt.Printf("  %s\n", gray("No features recorded"))
		return
	}
	for _, s := range stats {
		fmt.Printf("  %-20s %d\n", s.Name, s.Count)
	}
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.configPath, "config", "", "YAML config file")
	f.StringVarP(&scanFlags.outputDir, "output", "o", "bulkscan-out", "output directory")
	f.IntVarP(&scanFlags.threads, "threads", "j", 0, "worker threads")
	f.IntVar(&scanFlags.pageSize, "page-size", 0, "page size in bytes")
	f.IntVar(&scanFlags.margin, "margin", -1, "page overlap margin in bytes")
	f.StringVarP(&scanFlags.sampling, "sampling", "s", "", "random sampling: fraction[:passes]")
	f.Int64Var(&scanFlags.seed, "seed", 0, "sampling RNG seed")
	f.Uint64Var(&scanFlags.offsetStart, "offset-start", 0, "skip bytes before this offset")
	f.Uint64Var(&scanFlags.offsetEnd, "offset-end", 0, "stop at this offset (0 = end of image)")
	f.Uint64Var(&scanFlags.pageStart, "page-start", 0, "skip pages before this page number")
	f.IntVar(&scanFlags.notifyRate, "notify-rate", 0, "pages between progress lines")
	f.BoolVarP(&scanFlags.quiet, "quiet", "q", false, "suppress stdout output")
	f.BoolVar(&scanFlags.reportReadErrors, "report-read-errors", false, "echo per-page read errors to stderr")
	f.BoolVar(&scanFlags.noHash, "no-hash", false, "disable the rolling SHA-1 of the image")
	f.IntVar(&scanFlags.maxWait, "max-wait", 0, "drain deadline in seconds")
	f.IntVar(&scanFlags.retrySeconds, "retry-seconds", 0, "sleep between allocation retries")
	f.IntVar(&scanFlags.maxBadAlloc, "max-bad-alloc", 0, "allocation retries before giving up")
	f.BoolVar(&scanFlags.sqlite, "sqlite", false, "record features into SQLite instead of text files")
	f.IntVar(&scanFlags.maxDepth, "max-recursion-depth", 0, "deepest decode nesting to scan")
	rootCmd.AddCommand(scanCmd)
}
