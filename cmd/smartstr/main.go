package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nyar-vm/nyar-string/config"
	"github.com/nyar-vm/nyar-string/internal/arena"
	"github.com/nyar-vm/nyar-string/logging"
	"github.com/nyar-vm/nyar-string/manager"
	"github.com/nyar-vm/nyar-string/output"
	"github.com/nyar-vm/nyar-string/smart"
	"github.com/nyar-vm/nyar-string/stats"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var cfg *config.Config

var errInvalidText = errors.New("text is not valid UTF-8")

// env is the runtime state shared by the subcommands once flags are parsed.
type env struct {
	logger  *logging.Logger
	tracker *stats.Tracker
}

var current *env

var rootCmd = &cobra.Command{
	Use:   "smartstr",
	Short: "smartstr inspects and interns compact smart strings.",
	Long: `smartstr exercises the nyar-string library: it shows how values are laid out
in their string-sized representation and measures how well the interning
manager deduplicates repeated input.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "smartstr" {
			return nil
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		current = e
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current == nil {
			return nil
		}
		current.tracker.Stop()
		err := current.logger.Close()
		current = nil
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		showVersion, err := cmd.Flags().GetBool("version")
		if err != nil {
			return err
		}
		if showVersion {
			fmt.Fprintf(cmd.OutOrStdout(), "smartstr version: %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "built: %s\n", date)
			return nil
		}
		return cmd.Help()
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [text...]",
	Short: "Show the kind, length and raw layout of each argument",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		writer, err := output.NewWriter(cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := writer.Close(); err == nil {
				err = cerr
			}
		}()

		for _, arg := range args {
			value, err := buildValue(cfg.Kind, arg)
			if err != nil {
				return err
			}
			current.tracker.RecordKind(value.Kind().String())
			err = writer.WriteRecord(output.Describe(value))
			value.Release()
			if err != nil {
				return err
			}
		}
		return nil
	},
}

var internCmd = &cobra.Command{
	Use:   "intern [file...]",
	Short: "Intern every line of the given files (or stdin) and report deduplication",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lines, err := gatherLines(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			current.logger.Warnf("No input lines. Pass files as arguments or pipe text via stdin.")
			return nil
		}

		current.tracker.Start(ctx.Done())
		values, err := internLines(ctx, lines, cfg.Kind, cfg.Threads, current.tracker)
		if err != nil {
			return err
		}
		defer func() {
			for _, value := range values {
				value.Release()
			}
			// Static values borrow their bytes from lines.
			runtime.KeepAlive(lines)
		}()

		summary := summarise(lines, values, manager.Default(), current.tracker.Snapshot())
		logSummary(current.logger, summary)

		writer, err := output.NewWriter(cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := writer.WriteSummary(summary); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	},
}

func init() {
	cfg = config.BindFlags(rootCmd)
	rootCmd.Flags().BoolP("version", "V", false, "Show smartstr version information and exit")
	rootCmd.AddCommand(inspectCmd, internCmd)
}

func setup(cmd *cobra.Command) (*env, error) {
	if err := config.ApplyProfile(cfg, cmd); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	levelName := cfg.LogLevel
	if cfg.Verbose && !cmd.Flags().Changed("log-level") {
		levelName = "debug"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	console := cmd.ErrOrStderr()
	if cfg.Silent {
		console = io.Discard
	}
	logger, err := logging.New(logging.Options{Level: level, Console: console, FilePath: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	if cfg.LogFile != "" {
		logger.Infof("File logging enabled: %s", cfg.LogFile)
	}

	tracker := stats.NewTracker(stats.Options{Logger: statsLogger(logger, cfg), Interval: cfg.StatsInterval})
	err = manager.Configure(manager.Options{
		Shards:            cfg.Shards,
		EvictUnreferenced: cfg.Evict,
		Tracker:           tracker,
		Logger:            logger,
	})
	if err := reportDefaults(logger, err, arena.Configure(tracker)); err != nil {
		return nil, err
	}
	return &env{logger: logger, tracker: tracker}, nil
}

// reportDefaults warns about each process-wide default that was already in use
// and could not take the new options.
func reportDefaults(logger *logging.Logger, managerErr error, arenaConfigured bool) error {
	if managerErr != nil {
		if !errors.Is(managerErr, manager.ErrConfigured) {
			return managerErr
		}
		logger.Warnf("Default manager already initialised; shard and eviction options ignored")
	}
	if !arenaConfigured {
		logger.Warnf("Default arena already initialised; heap statistics go to the earlier tracker")
	}
	return nil
}

// statsLogger returns the logger periodic statistics go to, or nil when
// periodic reporting is disabled.
func statsLogger(logger *logging.Logger, cfg *config.Config) *logging.Logger {
	if cfg.StatsInterval <= 0 {
		return nil
	}
	return logger.With("stats")
}

// buildValue constructs text with the requested kind. Heap values must hold
// valid UTF-8, so other input is reported instead of reaching FromHeap.
func buildValue(kind config.Kind, text string) (smart.String, error) {
	switch kind {
	case config.KindOwned:
		return smart.FromOwned(text), nil
	case config.KindStatic:
		return smart.FromStatic(text), nil
	case config.KindHeap:
		if !utf8.ValidString(text) {
			return smart.String{}, fmt.Errorf("heap value %q: %w", text, errInvalidText)
		}
		return smart.FromHeap([]byte(text)), nil
	default:
		return smart.New(text), nil
	}
}

func gatherLines(stdin io.Reader, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return readLines(stdin)
	}
	var lines []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		read, err := readLines(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		lines = append(lines, read...)
	}
	return lines, nil
}

func readLines(r io.Reader) ([]string, error) {
	if file, ok := r.(*os.File); ok {
		if stat, err := file.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return nil, nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lines := make([]string, 0)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// internLines builds one value per line using a bounded worker pool.
func internLines(ctx context.Context, lines []string, kind config.Kind, threads int, tracker *stats.Tracker) ([]smart.String, error) {
	values := make([]smart.String, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	if threads > 0 {
		g.SetLimit(threads)
	}
	for i, line := range lines {
		i, line := i, line
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := buildValue(kind, line)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			tracker.RecordKind(value.Kind().String())
			values[i] = value
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for _, value := range values {
			value.Release()
		}
		return nil, err
	}
	return values, nil
}

func summarise(lines []string, values []smart.String, m *manager.Manager, snapshot stats.Snapshot) output.Summary {
	s := output.Summary{
		Lines:      len(lines),
		HitRate:    snapshot.HitRate(),
		Collisions: snapshot.Collisions,
		Kinds:      make(map[string]int64),
	}
	for _, line := range lines {
		s.InputBytes += len(line)
	}
	for _, value := range values {
		s.Kinds[value.Kind().String()]++
	}
	st := m.Stats()
	s.Bodies = st.Entries
	s.InternedBytes = st.Bytes
	return s
}

func logSummary(logger *logging.Logger, s output.Summary) {
	saved := s.InputBytes - s.InternedBytes
	if s.Kinds[smart.Managed.String()] == 0 || saved < 0 {
		saved = 0
	}
	logger.Infof("Interned %d lines into %d bodies (%d bytes saved)", s.Lines, s.Bodies, saved)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
