package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultConfigFilename = ".smartstr.yaml"

type fileConfig struct {
	Profiles map[string]profileSettings `yaml:"profiles"`
}

type profileSettings struct {
	Verbose       *bool          `yaml:"verbose"`
	Silent        *bool          `yaml:"silent"`
	LogLevel      *string        `yaml:"log_level"`
	LogFile       *string        `yaml:"log_file"`
	Shards        *int           `yaml:"shards"`
	Threads       *int           `yaml:"threads"`
	Kind          *Kind          `yaml:"kind"`
	Evict         *bool          `yaml:"evict"`
	StatsInterval *time.Duration `yaml:"stats_interval"`
	Format        *Format        `yaml:"format"`
	OutputPath    *string        `yaml:"output"`
}

// UnmarshalYAML accepts the kind in any case and surrounding whitespace.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported YAML type %s for kind", value.ShortTag())
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*k = Kind(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// ApplyProfile loads and applies the requested configuration profile to cfg.
// Command-line flag overrides take precedence over profile values.
func ApplyProfile(cfg *Config, cmd *cobra.Command) error {
	path, err := resolveConfigPath(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("locating config file: %w", err)
	}

	if path == "" {
		if cfg.Profile != "" {
			return fmt.Errorf("profile %q requested but no %s file was found", cfg.Profile, defaultConfigFilename)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	profileName := cfg.Profile
	if profileName == "" {
		if _, ok := fc.Profiles["default"]; !ok {
			return nil
		}
		profileName = "default"
	}

	profile, ok := fc.Profiles[profileName]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", profileName, path)
	}

	applyProfileSettings(cfg, &profile, cmd)
	cfg.ConfigPath = path
	return nil
}

func applyProfileSettings(cfg *Config, profile *profileSettings, cmd *cobra.Command) {
	var flags *pflag.FlagSet
	if cmd != nil {
		flags = cmd.Flags()
	}

	if profile.Verbose != nil && !flagChanged(flags, "verbose") {
		cfg.Verbose = *profile.Verbose
	}
	if profile.Silent != nil && !flagChanged(flags, "silent") {
		cfg.Silent = *profile.Silent
	}
	if profile.LogLevel != nil && !flagChanged(flags, "log-level") {
		cfg.LogLevel = strings.TrimSpace(*profile.LogLevel)
	}
	if profile.LogFile != nil && !flagChanged(flags, "log-file") {
		cfg.LogFile = strings.TrimSpace(*profile.LogFile)
	}
	if profile.Shards != nil && !flagChanged(flags, "shards") {
		cfg.Shards = *profile.Shards
	}
	if profile.Threads != nil && !flagChanged(flags, "threads") {
		cfg.Threads = *profile.Threads
	}
	if profile.Kind != nil && !flagChanged(flags, "kind") {
		cfg.Kind = *profile.Kind
	}
	if profile.Evict != nil && !flagChanged(flags, "evict") {
		cfg.Evict = *profile.Evict
	}
	if profile.StatsInterval != nil && !flagChanged(flags, "stats-interval") {
		cfg.StatsInterval = *profile.StatsInterval
	}
	if profile.Format != nil && !flagChanged(flags, "format") {
		cfg.Format = *profile.Format
	}
	if profile.OutputPath != nil && !flagChanged(flags, "output") {
		cfg.OutputPath = strings.TrimSpace(*profile.OutputPath)
	}
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		abs := explicit
		if !filepath.IsAbs(abs) {
			if resolved, err := filepath.Abs(explicit); err == nil {
				abs = resolved
			}
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		return abs, nil
	}

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	} else {
		return "", fmt.Errorf("getwd: %w", err)
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	flag := flags.Lookup(name)
	if flag == nil {
		return false
	}
	return flag.Changed
}
