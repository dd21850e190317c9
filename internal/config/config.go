package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultOperationTimeout = 5 * time.Minute
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxFiles      = 5
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Data     DataConfig     `toml:"data"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DataConfig struct {
	Dir  string `toml:"dir"`
	User string `toml:"user"`
}

type DatabaseConfig struct {
	OperationTimeout time.Duration `toml:"operation_timeout"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DataDir *string
	User    *string
}

// UserDir is the directory holding the user's database file.
func (c Config) UserDir() (string, error) {
	if c.Data.User == "" {
		return "", fmt.Errorf("%w: no user selected", ErrInvalidConfig)
	}
	return filepath.Join(c.Data.Dir, c.Data.User), nil
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			OperationTimeout: defaultOperationTimeout,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves the configuration. Later sources win: defaults, the TOML
// file, ROTKI_* environment variables, then flags.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	dataDir, err := defaultDataDir(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.Data.Dir = dataDir

	configPath, err := ResolvePath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Data     *rawData     `toml:"data"`
	Database *rawDatabase `toml:"database"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawData struct {
	Dir  *string `toml:"dir"`
	User *string `toml:"user"`
}

type rawDatabase struct {
	OperationTimeout *string `toml:"operation_timeout"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Data != nil {
		setString(raw.Data.Dir, &cfg.Data.Dir)
		setString(raw.Data.User, &cfg.Data.User)
	}

	if raw.Database != nil {
		if err := setDuration("database.operation_timeout", raw.Database.OperationTimeout, &cfg.Database.OperationTimeout); err != nil {
			return err
		}
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "ROTKI_DATA_DIR"); ok {
		cfg.Data.Dir = value
	}
	if value, ok := lookupEnv(opts, "ROTKI_USER"); ok {
		cfg.Data.User = value
	}

	if value, ok := lookupEnv(opts, "ROTKI_OPERATION_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROTKI_OPERATION_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Database.OperationTimeout = d
	}

	if value, ok := lookupEnv(opts, "ROTKI_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "ROTKI_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "ROTKI_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROTKI_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "ROTKI_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROTKI_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}
	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.DataDir != nil {
		cfg.Data.Dir = *flags.DataDir
	}
	if flags.User != nil {
		cfg.Data.User = *flags.User
	}
}

func validate(cfg Config) error {
	if cfg.Data.Dir == "" {
		return fmt.Errorf("%w: data.dir must not be empty", ErrInvalidConfig)
	}
	if cfg.Data.User != "" && (strings.ContainsAny(cfg.Data.User, `/\`) || cfg.Data.User == "." || cfg.Data.User == "..") {
		return fmt.Errorf("%w: data.user %q is not a valid user name", ErrInvalidConfig, cfg.Data.User)
	}
	if cfg.Database.OperationTimeout <= 0 || cfg.Database.OperationTimeout > 24*time.Hour {
		return fmt.Errorf("%w: database.operation_timeout must be > 0 and <= 24h", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging.max_files must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

// ResolvePath returns the config file Load would read.
func ResolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "ROTKI_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func defaultDataDir(opts LoadOptions) (string, error) {
	if value, ok := lookupEnv(opts, "ROTKI_HOME"); ok {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "rotki", "data"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "rotki", "data"), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "rotki", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "rotki", "config.toml"), nil
}
