package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/manifest-packager/internal/logger"
)

// Config holds the file naming conventions and defaults of a packaging run.
type Config struct {
	// DescriptorNames lists the descriptor file names searched for, in priority order.
	DescriptorNames []string `mapstructure:"descriptor_names" yaml:"descriptor_names"`
	// KeyFilename is the private key file stored next to a descriptor.
	KeyFilename string `mapstructure:"key_filename" yaml:"key_filename"`
	// UserManifestFilename is the root file listing extra user files.
	UserManifestFilename string `mapstructure:"user_manifest" yaml:"user_manifest"`
	// InfoFilename is the description file added to the out set.
	InfoFilename string `mapstructure:"info_filename" yaml:"info_filename"`
	// MarkerFilename guards the root against concurrent runs.
	MarkerFilename string `mapstructure:"marker_filename" yaml:"marker_filename"`
	// DefaultSets are packaged when no set is requested.
	DefaultSets []string `mapstructure:"default_sets" yaml:"default_sets"`
	// LogLevel is the minimum level written to stderr.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

const (
	// DefaultConfigName is the base name of the optional config file in the run root.
	DefaultConfigName = "packager"

	// DefaultConfigFilename is the file written by Save when no path is given.
	DefaultConfigFilename = DefaultConfigName + ".yaml"

	// DefaultDescriptorName is the original descriptor file name.
	DefaultDescriptorName = "MANIFEST.json"

	// DefaultKeyFilename is the private key file name.
	DefaultKeyFilename = "Manifest.key"

	// DefaultUserManifestFilename is the user manifest file name.
	DefaultUserManifestFilename = "manifest"

	// DefaultInfoFilename is the description file name.
	DefaultInfoFilename = "PACKAGER-INFO.txt"

	// DefaultMarkerFilename is the run marker file name.
	DefaultMarkerFilename = ".packager-running"

	// DefaultSet is packaged when nothing else is requested.
	DefaultSet = "out"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the permission for private keys and config files.
	DefaultFilePermissions = 0o600

	// envPrefix prefixes every environment override, e.g. PACKAGER_LOG_LEVEL.
	envPrefix = "PACKAGER"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidFilename is returned for names that are empty, contain a path separator or glob syntax.
	errInvalidFilename = errors.New("file name must be a single plain path element")
	// errInvalidLogLevel is returned for an unknown log level.
	errInvalidLogLevel = errors.New("unknown log level")
	// errInvalidSetName is returned for an empty default set name.
	errInvalidSetName = errors.New("set name must not be empty")
)

// DefaultDescriptorNames returns the descriptor names searched for by default.
func DefaultDescriptorNames() []string {
	return []string{DefaultDescriptorName, "MANIFEST.yaml", "MANIFEST.yml", "MANIFEST.toml"}
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DescriptorNames:      DefaultDescriptorNames(),
		KeyFilename:          DefaultKeyFilename,
		UserManifestFilename: DefaultUserManifestFilename,
		InfoFilename:         DefaultInfoFilename,
		MarkerFilename:       DefaultMarkerFilename,
		DefaultSets:          []string{DefaultSet},
		LogLevel:             DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, an optional config file and
// PACKAGER_* environment variables. An explicit path must exist; otherwise
// packager.{yaml,yml,json,toml} is looked up in dir and skipped when absent.
func Load(path, dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides are picked up.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("descriptor_names", defaults.DescriptorNames)
	v.SetDefault("key_filename", defaults.KeyFilename)
	v.SetDefault("user_manifest", defaults.UserManifestFilename)
	v.SetDefault("info_filename", defaults.InfoFilename)
	v.SetDefault("marker_filename", defaults.MarkerFilename)
	v.SetDefault("default_sets", defaults.DefaultSets)
	v.SetDefault("log_level", defaults.LogLevel)
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errConfigIsNotSet
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	return data, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills missing values with defaults and rejects malformed ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Default()

	if len(cfg.DescriptorNames) == 0 {
		cfg.DescriptorNames = defaults.DescriptorNames
	}

	fillString(&cfg.KeyFilename, defaults.KeyFilename)
	fillString(&cfg.UserManifestFilename, defaults.UserManifestFilename)
	fillString(&cfg.InfoFilename, defaults.InfoFilename)
	fillString(&cfg.MarkerFilename, defaults.MarkerFilename)
	fillString(&cfg.LogLevel, defaults.LogLevel)

	if len(cfg.DefaultSets) == 0 {
		cfg.DefaultSets = defaults.DefaultSets
	}

	names := append([]string{
		cfg.KeyFilename,
		cfg.UserManifestFilename,
		cfg.InfoFilename,
		cfg.MarkerFilename,
	}, cfg.DescriptorNames...)

	for _, name := range names {
		if err := validateFilename(name); err != nil {
			return err
		}
	}

	for _, set := range cfg.DefaultSets {
		if strings.TrimSpace(set) == "" {
			return errInvalidSetName
		}
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.LogLevel)
	}

	return nil
}

// fillString replaces an empty value with fallback.
func fillString(value *string, fallback string) {
	if strings.TrimSpace(*value) == "" {
		*value = fallback
	}
}

// validateFilename accepts a single non-special path element without glob syntax.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\*?[]{}`) {
		return fmt.Errorf("%w: %q", errInvalidFilename, name)
	}

	return nil
}
