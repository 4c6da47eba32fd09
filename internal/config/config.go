package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
)

// Config represents the main configuration structure. It is built once at
// process start and passed by reference; the conversion pipeline itself
// carries no global state.
type Config struct {
	InputDirectory  string           `mapstructure:"input_directory"`
	OutputDirectory string           `mapstructure:"output_directory"`
	Conversion      ConversionConfig `mapstructure:"conversion"`
	Server          ServerConfig     `mapstructure:"server"`
	Logging         LoggingConfig    `mapstructure:"logging"`
}

// ConversionConfig contains the default conversion settings.
type ConversionConfig struct {
	Preset       string `mapstructure:"preset"`
	MaxDimension int    `mapstructure:"max_dimension"` // pixels, 0 disables resizing
}

// ServerConfig contains web server settings.
type ServerConfig struct {
	Port        int   `mapstructure:"port"`
	Debug       bool  `mapstructure:"debug"`
	MaxUploadMB int64 `mapstructure:"max_upload_mb"` // per-request body cap
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// minMaxDimension is the smallest allowed resize target, matching the
// original tool's 100px floor.
const minMaxDimension = 100

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		InputDirectory:  "input",
		OutputDirectory: "output",
		Conversion: ConversionConfig{
			Preset:       converter.PresetBalanced.String(),
			MaxDimension: 0,
		},
		Server: ServerConfig{
			Port:        8080,
			Debug:       false,
			MaxUploadMB: 64,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "webp-optimizer.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// Environment variables use the WEBP_OPTIMIZER prefix, e.g.
// WEBP_OPTIMIZER_SERVER_PORT or WEBP_OPTIMIZER_CONVERSION_PRESET.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults(DefaultConfig())

	viper.SetConfigType("yaml")
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.webp-optimizer")
		viper.AddConfigPath("/etc/webp-optimizer")
	}

	viper.SetEnvPrefix("WEBP_OPTIMIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Missing config file is fine, defaults and env apply.
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers defaults with viper so environment overrides bind
// even without a config file.
func setDefaults(c *Config) {
	viper.SetDefault("input_directory", c.InputDirectory)
	viper.SetDefault("output_directory", c.OutputDirectory)
	viper.SetDefault("conversion.preset", c.Conversion.Preset)
	viper.SetDefault("conversion.max_dimension", c.Conversion.MaxDimension)
	viper.SetDefault("server.port", c.Server.Port)
	viper.SetDefault("server.debug", c.Server.Debug)
	viper.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	viper.SetDefault("logging.level", c.Logging.Level)
	viper.SetDefault("logging.file_path", c.Logging.FilePath)
	viper.SetDefault("logging.max_size", c.Logging.MaxSize)
	viper.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	viper.SetDefault("logging.max_age", c.Logging.MaxAge)
	viper.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration. An unrecognized preset is rejected
// here, before any batch runs.
func (c *Config) Validate() error {
	if c.InputDirectory == "" {
		return fmt.Errorf("input_directory is required")
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}

	if _, err := converter.ParsePreset(c.Conversion.Preset); err != nil {
		return err
	}

	if c.Conversion.MaxDimension < 0 {
		return fmt.Errorf("conversion.max_dimension must not be negative")
	}
	if c.Conversion.MaxDimension > 0 && c.Conversion.MaxDimension < minMaxDimension {
		return fmt.Errorf("conversion.max_dimension must be at least %d pixels", minMaxDimension)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Preset returns the parsed default quality preset. Validate must have
// accepted the configuration first.
func (c *Config) Preset() converter.Preset {
	p, err := converter.ParsePreset(c.Conversion.Preset)
	if err != nil {
		return converter.PresetBalanced
	}
	return p
}

// MaxUploadBytes returns the request body cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}

// EnsureDirectories creates the input and output directories if needed.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.InputDirectory, 0755); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}
	if err := os.MkdirAll(c.OutputDirectory, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
