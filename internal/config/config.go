package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	BoardsPath     string         `mapstructure:"boards_path" yaml:"boards_path" validate:"required,dir"`
	Database       DatabaseConfig `mapstructure:"database" yaml:"database" validate:"required"`
	Blob           BlobConfig     `mapstructure:"blob" yaml:"blob"`
	Sync           SyncConfig     `mapstructure:"sync" yaml:"sync"`
	IgnorePatterns []string       `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// DatabaseConfig holds remote board store connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" yaml:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`
	Database string `mapstructure:"database" yaml:"database" validate:"required"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// BlobConfig holds asset blob store (S3-compatible) settings
type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" validate:"required"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	DebounceMs     int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	PollIntervalS  int `mapstructure:"poll_interval_s" yaml:"poll_interval_s"`
	MaxAssetSizeMB int `mapstructure:"max_asset_size_mb" yaml:"max_asset_size_mb"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Blob: BlobConfig{
			Region: "us-east-1",
		},
		Sync: SyncConfig{
			DebounceMs:     500,
			PollIntervalS:  60,
			MaxAssetSizeMB: 50,
		},
		IgnorePatterns: []string{
			"*.meta.json",
			"assets/**",
			".trash/**",
			"**/.DS_Store",
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("blob.region", defaults.Blob.Region)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.poll_interval_s", defaults.Sync.PollIntervalS)
	v.SetDefault("sync.max_asset_size_mb", defaults.Sync.MaxAssetSizeMB)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("ASTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Blob.SecretKey = os.ExpandEnv(cfg.Blob.SecretKey)

	// Expand boards path
	cfg.BoardsPath = expandPath(cfg.BoardsPath)

	// Validate
	validate := validator.New()

	// Register custom validation for directory existence
	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "astra-sync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "astra-sync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "astra-sync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "astra-sync")
	}
}

// GetStateDir returns the directory for storing state files
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
