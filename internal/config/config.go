package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// MaxNameLength is the size of the name field in the binary header.
const MaxNameLength = 48

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type LoadMode string

const (
	// ModeRich reads optional factoriser and PSQT tensors and accepts aliases.
	ModeRich LoadMode = "rich"
	// ModeStrict demands exactly the four feature/output tensors.
	ModeStrict LoadMode = "strict"
)

type Config struct {
	Input   string `yaml:"input"`
	Unified string `yaml:"unified"`
	Split   string `yaml:"split"`

	ArrowPath   string `yaml:"arrow"`
	HistoryDir  string `yaml:"history"`
	MetricsFile string `yaml:"metrics_file"`

	QA     int  `yaml:"qa"`
	QB     int  `yaml:"qb"`
	BigOut bool `yaml:"big_out"`

	NoHeader   bool   `yaml:"no_header"`
	Name       string `yaml:"name"`
	Activation string `yaml:"activation"`

	Mode        LoadMode `yaml:"mode"`
	FeatureName string   `yaml:"ft_name"`
	OutputName  string   `yaml:"out_name"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		QA:          255,
		QB:          64,
		Activation:  "screlu",
		Mode:        ModeRich,
		FeatureName: "perspective",
		OutputName:  "out",
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// LoadFile overlays the YAML document at path on Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Unified == "" && c.Split == "" {
		return fmt.Errorf("%w: no output path specified, try --unified <PATH> or --split <PATH>", ErrInvalidConfig)
	}
	if c.QA <= 0 {
		return fmt.Errorf("%w: invalid qa: %d (must be positive)", ErrInvalidConfig, c.QA)
	}
	if c.QB <= 0 {
		return fmt.Errorf("%w: invalid qb: %d (must be positive)", ErrInvalidConfig, c.QB)
	}
	// qa*qb scales the output bias and must stay representable.
	if int64(c.QA)*int64(c.QB) > 1<<31-1 {
		return fmt.Errorf("%w: qa*qb overflows: %d*%d", ErrInvalidConfig, c.QA, c.QB)
	}
	switch c.Mode {
	case ModeRich, ModeStrict:
	default:
		return fmt.Errorf("%w: unknown mode %q (want %q or %q)", ErrInvalidConfig, c.Mode, ModeRich, ModeStrict)
	}
	if c.FeatureName == "" || c.OutputName == "" {
		return fmt.Errorf("%w: layer names must not be empty (ft=%q, out=%q)", ErrInvalidConfig, c.FeatureName, c.OutputName)
	}
	if err := c.validateHeader(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHeader() error {
	if len(c.Name) > MaxNameLength {
		return fmt.Errorf("%w: network name is %d bytes (max %d)", ErrInvalidConfig, len(c.Name), MaxNameLength)
	}
	if !utf8.ValidString(c.Name) {
		return fmt.Errorf("%w: network name is not valid UTF-8", ErrInvalidConfig)
	}
	if !c.HeaderEnabled() {
		return nil
	}
	if c.Unified == "" {
		return nil
	}
	if c.Name == "" {
		return fmt.Errorf("%w: a network name is required when writing a header (use --name or --no-header)", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Activation) {
	case "relu", "crelu", "screlu", "sqrrelu":
	default:
		return fmt.Errorf("%w: unknown activation %q", ErrInvalidConfig, c.Activation)
	}
	return nil
}

// HeaderEnabled reports whether unified output is prefixed with a header.
func (c *Config) HeaderEnabled() bool {
	return !c.NoHeader
}

func (c *Config) Strict() bool {
	return c.Mode == ModeStrict
}
