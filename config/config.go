package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Kind selects how the CLI constructs values.
type Kind string

// Supported construction kinds.
const (
	KindAuto   Kind = "auto"
	KindOwned  Kind = "owned"
	KindStatic Kind = "static"
	KindHeap   Kind = "heap"
)

// Format represents a report format option.
type Format string

// Supported report formats.
const (
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

const maxShards = 1024

// Config captures all runtime configuration for the CLI.
type Config struct {
	ConfigPath string
	Profile    string

	Verbose  bool
	Silent   bool
	LogLevel string
	LogFile  string

	Shards        int
	Threads       int
	Kind          Kind
	Evict         bool
	StatsInterval time.Duration

	Format     Format
	OutputPath string
}

// BindFlags registers the shared command-line flags and returns a Config
// instance whose fields are populated when Cobra parses flag values.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := &Config{}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigPath, "config", "", "Path to a configuration file (default ./.smartstr.yaml or ~/.smartstr.yaml)")
	flags.StringVar(&cfg.Profile, "profile", "", "Configuration profile to apply")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging output")
	flags.BoolVarP(&cfg.Silent, "silent", "s", false, "Suppress log output on the console")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Append logs to this file")
	flags.IntVar(&cfg.Shards, "shards", 0, "Number of interning shards, rounded up to a power of two (0 = automatic)")
	flags.IntVarP(&cfg.Threads, "threads", "t", runtime.NumCPU(), "Number of concurrent interning workers")
	flags.StringVarP((*string)(&cfg.Kind), "kind", "k", string(KindAuto), "Value kind to construct (auto, owned, static, heap)")
	flags.BoolVar(&cfg.Evict, "evict", false, "Evict interned bodies once their last reference is released")
	flags.DurationVar(&cfg.StatsInterval, "stats-interval", 0, "Log interning statistics at this interval (0 disables)")
	flags.StringVar((*string)(&cfg.Format), "format", string(FormatTXT), "Report format (txt, json, csv)")
	flags.StringVarP(&cfg.OutputPath, "output", "o", "", "Write reports to this file instead of stdout")

	return cfg
}

// Validate ensures the provided configuration values meet the expected
// constraints and normalises their representation where required.
func (c *Config) Validate() error {
	if c.Silent && c.Verbose {
		return errors.New("--silent and --verbose cannot be used together")
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(string(c.Kind))))
	switch kind {
	case KindAuto, KindOwned, KindStatic, KindHeap:
		c.Kind = kind
	case "":
		c.Kind = KindAuto
	default:
		return fmt.Errorf("invalid kind %q: expected %q, %q, %q, or %q", c.Kind, KindAuto, KindOwned, KindStatic, KindHeap)
	}

	format := Format(strings.ToLower(strings.TrimSpace(string(c.Format))))
	switch format {
	case FormatTXT, FormatJSON, FormatCSV:
		c.Format = format
	case "":
		c.Format = FormatTXT
	default:
		return fmt.Errorf("invalid report format %q: expected txt, json, or csv", c.Format)
	}

	if c.Shards < 0 || c.Shards > maxShards {
		return fmt.Errorf("invalid shard count %d: expected 0 to %d", c.Shards, maxShards)
	}

	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}

	if c.StatsInterval < 0 {
		return fmt.Errorf("invalid stats interval %s", c.StatsInterval)
	}

	c.LogLevel = strings.TrimSpace(c.LogLevel)
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.Profile = strings.TrimSpace(c.Profile)
	c.OutputPath = strings.TrimSpace(c.OutputPath)

	return nil
}

// LiveOutput returns true when reports should be sent to stdout instead of a file.
func (c *Config) LiveOutput() bool {
	return strings.TrimSpace(c.OutputPath) == ""
}
