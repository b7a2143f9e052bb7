// Package config loads run configuration from defaults, an optional YAML
// file, and environment overrides, and converts it into the per-package
// configs the engine consumes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanlab/bulkscan/internal/image"
	"github.com/scanlab/bulkscan/internal/phase1"
	"github.com/scanlab/bulkscan/internal/scanner"
)

// Config is the full run configuration. YAML keys match the long names
// used in documentation and the config file.
type Config struct {
	NumThreads        int `yaml:"num_threads"`
	MaxBadAllocErrors int `yaml:"max_bad_alloc_errors"`
	RetrySeconds      int `yaml:"retry_seconds"`
	MaxWaitTime       int `yaml:"max_wait_time"`

	OffsetStart uint64 `yaml:"offset_start"`
	OffsetEnd   uint64 `yaml:"offset_end"`
	PageStart   uint64 `yaml:"page_start"`

	NotifyRate       int  `yaml:"notify_rate"`
	Quiet            bool `yaml:"quiet"`
	ReportReadErrors bool `yaml:"report_read_errors"`
	DisableHash      bool `yaml:"disable_hash"`

	SamplingFraction float64 `yaml:"sampling_fraction"`
	SamplingPasses   int     `yaml:"sampling_passes"`
	SamplingSeed     int64   `yaml:"sampling_seed"`

	PageSize int `yaml:"page_size"`
	Margin   int `yaml:"margin"`

	OutputDir string `yaml:"output_dir"`
	SQLite    bool   `yaml:"sqlite"`

	MaxRecursionDepth   int   `yaml:"max_recursion_depth"`
	MaxDecodeBytes      int64 `yaml:"max_decode_bytes"`
	GzipMaxUncompressed int64 `yaml:"gzip_max_uncompr_size"`
}

// Default returns the production defaults.
func Default() Config {
	p1 := phase1.DefaultConfig()
	sc := scanner.DefaultConfig()
	return Config{
		NumThreads:        p1.NumThreads,
		MaxBadAllocErrors: p1.MaxBadAllocErrors,
		RetrySeconds:      int(p1.RetryDelay / time.Second),
		MaxWaitTime:       int(p1.MaxWaitTime / time.Second),
		NotifyRate:        p1.NotifyRate,
		SamplingPasses:    p1.SamplingPasses,
		PageSize:          image.DefaultPageSize,
		Margin:            image.DefaultMargin,
		OutputDir:         "bulkscan-out",
		MaxRecursionDepth: sc.MaxDepth,
		MaxDecodeBytes:    sc.MaxDecodeBytes,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BULKSCAN_* environment variables. Unset
// variables leave the config untouched; malformed values are errors so a
// typo cannot silently fall back to a default.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("BULKSCAN_NUM_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BULKSCAN_NUM_THREADS: %w", err)
		}
		c.NumThreads = n
	}
	if v := os.Getenv("BULKSCAN_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("BULKSCAN_QUIET"); v != "" {
		q, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BULKSCAN_QUIET: %w", err)
		}
		c.Quiet = q
	}
	if v := os.Getenv("BULKSCAN_SAMPLING"); v != "" {
		frac, passes, err := ParseSampling(v)
		if err != nil {
			return fmt.Errorf("invalid BULKSCAN_SAMPLING: %w", err)
		}
		c.SamplingFraction = frac
		c.SamplingPasses = passes
	}
	return nil
}

// ParseSampling parses the "fraction[:passes]" command-line form.
func ParseSampling(s string) (float64, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 1 && len(parts) != 2 {
		return 0, 0, fmt.Errorf("sampling parameters must be fraction[:passes] (got %q)", s)
	}
	frac, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sampling fraction %q: %w", parts[0], err)
	}
	if frac <= 0 || frac >= 1 {
		return 0, 0, fmt.Errorf("sampling fraction f must be 0<f<1 (got %g)", frac)
	}
	passes := 1
	if len(parts) == 2 {
		passes, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid sampling passes %q: %w", parts[1], err)
		}
		if passes < 1 {
			return 0, 0, fmt.Errorf("sampling passes must be >= 1 (got %d)", passes)
		}
	}
	return frac, passes, nil
}

// Phase1 converts to the driver's config.
func (c Config) Phase1() phase1.Config {
	return phase1.Config{
		NumThreads:        c.NumThreads,
		MaxBadAllocErrors: c.MaxBadAllocErrors,
		RetryDelay:        time.Duration(c.RetrySeconds) * time.Second,
		MaxWaitTime:       time.Duration(c.MaxWaitTime) * time.Second,
		OffsetStart:       c.OffsetStart,
		OffsetEnd:         c.OffsetEnd,
		PageStart:         c.PageStart,
		NotifyRate:        c.NotifyRate,
		Quiet:             c.Quiet,
		ReportReadErrors:  c.ReportReadErrors,
		SamplingFraction:  c.SamplingFraction,
		SamplingPasses:    c.SamplingPasses,
		SamplingSeed:      c.SamplingSeed,
		DisableHash:       c.DisableHash,
	}
}

// Scanner converts to the scanner set's config.
func (c Config) Scanner() scanner.Config {
	return scanner.Config{
		MaxDepth:       c.MaxRecursionDepth,
		MaxDecodeBytes: c.MaxDecodeBytes,
	}
}

// Image converts to the image layer's page geometry.
func (c Config) Image() image.Options {
	return image.Options{
		PageSize: c.PageSize,
		Margin:   c.Margin,
	}
}

// Validate checks everything the engine would reject later, so errors
// surface at startup rather than mid-run.
func (c Config) Validate() error {
	if err := c.Phase1().Validate(); err != nil {
		return err
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page_size must be >= 1 (got %d)", c.PageSize)
	}
	if c.Margin < 0 {
		return fmt.Errorf("margin must be >= 0 (got %d)", c.Margin)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	return nil
}
