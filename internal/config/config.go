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

	"github.com/BurntSushi/toml"

	"github.com/codefionn/greyhound/internal/bbox"
	"github.com/codefionn/greyhound/internal/compress"
	"github.com/codefionn/greyhound/internal/logger"
	"github.com/codefionn/greyhound/internal/protocol"
	"github.com/codefionn/greyhound/internal/schema"
)

const (
	EnvHost     = "GREYHOUND_HOST"
	EnvPipeline = "GREYHOUND_PIPELINE"

	// CompressionAuto picks a codec per region.
	CompressionAuto = "auto"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config represents application configuration
type Config struct {
	Host           string        // host[:port] of the server
	Pipeline       string        // pipeline id to open a session on
	Workers        int           // parallel connections
	Depth          int           // quad-split levels of the stats bbox
	DepthBegin     int           // 0 means unset
	DepthEnd       int           // 0 means unset
	Schema         []string      // channel names or name:type:size; empty means standard
	OutputDir      string        // where regions and the manifest go; empty means no output
	Compression    string        // none, lz4, zstd, bg4_lz4 or auto
	LogLevel       string        // debug, info, warn, error, none
	LogPath        string        // log file, "-" for stderr
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

type fileConfig struct {
	Host           string   `toml:"host"`
	Pipeline       string   `toml:"pipeline"`
	Workers        int      `toml:"workers"`
	Depth          int      `toml:"depth"`
	DepthBegin     int      `toml:"depth_begin"`
	DepthEnd       int      `toml:"depth_end"`
	Schema         []string `toml:"schema"`
	OutputDir      string   `toml:"output_dir"`
	Compression    string   `toml:"compression"`
	LogLevel       string   `toml:"log_level"`
	LogPath        string   `toml:"log_path"`
	ConnectTimeout string   `toml:"connect_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
	MaxMessageSize int64    `toml:"max_message_size"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "greyhound")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "greyhound")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "greyhound")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "greyhound")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "greyhound")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "greyhound")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "greyhound")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "greyhound")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "greyhound")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "greyhound")
	}
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Host:           "localhost:8080",
		Workers:        1,
		Depth:          3,
		DepthEnd:       7,
		Compression:    CompressionAuto,
		LogLevel:       "info",
		LogPath:        filepath.Join(defaultStateDir(), "greyhound.log"),
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 << 20,
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.toml")
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("pipeline") {
		cfg.Pipeline = strings.TrimSpace(raw.Pipeline)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("depth") {
		cfg.Depth = raw.Depth
	}
	if meta.IsDefined("depth_begin") {
		cfg.DepthBegin = raw.DepthBegin
	}
	if meta.IsDefined("depth_end") {
		cfg.DepthEnd = raw.DepthEnd
	}
	if meta.IsDefined("schema") {
		cfg.Schema = normalizeNames(raw.Schema)
	}
	if meta.IsDefined("output_dir") {
		cfg.OutputDir = strings.TrimSpace(raw.OutputDir)
	}
	if meta.IsDefined("compression") {
		cfg.Compression = strings.ToLower(strings.TrimSpace(raw.Compression))
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_path") {
		cfg.LogPath = strings.TrimSpace(raw.LogPath)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}

	return cfg, nil
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw := fileConfig{
		Host:           c.Host,
		Pipeline:       c.Pipeline,
		Workers:        c.Workers,
		Depth:          c.Depth,
		DepthBegin:     c.DepthBegin,
		DepthEnd:       c.DepthEnd,
		Schema:         c.Schema,
		OutputDir:      c.OutputDir,
		Compression:    c.Compression,
		LogLevel:       c.LogLevel,
		LogPath:        c.LogPath,
		ConnectTimeout: c.ConnectTimeout.String(),
		WriteTimeout:   c.WriteTimeout.String(),
		MaxMessageSize: c.MaxMessageSize,
	}
	if err := toml.NewEncoder(f).Encode(raw); err != nil {
		return err
	}
	return f.Close()
}

// ApplyEnv overrides host, pipeline and logging from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvHost)); v != "" {
		c.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPipeline)); v != "" {
		c.Pipeline = v
	}
	c.LogLevel, c.LogPath = logger.FromEnv(c.LogLevel, c.LogPath)
}

// Validate checks the configuration for a download run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := protocol.ParseAddress(c.Host); err != nil {
		errs = append(errs, fmt.Errorf("host: %w", err))
	}
	if c.Pipeline == "" {
		errs = append(errs, errors.New("pipeline: required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers: must be at least 1, got %d", c.Workers))
	}
	if c.Depth < 1 || c.Depth > bbox.MaxSplitDepth {
		errs = append(errs, fmt.Errorf("depth: must be between 1 and %d, got %d", bbox.MaxSplitDepth, c.Depth))
	}
	if c.DepthBegin < 0 || c.DepthEnd < 0 {
		errs = append(errs, errors.New("depth_begin/depth_end: must not be negative"))
	}
	if c.DepthBegin > 0 && c.DepthEnd > 0 && c.DepthBegin > c.DepthEnd {
		errs = append(errs, fmt.Errorf("depth_begin %d is past depth_end %d", c.DepthBegin, c.DepthEnd))
	}
	if _, _, err := c.Codec(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ReadSchema(); err != nil {
		errs = append(errs, err)
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts: must not be negative"))
	}
	if c.MaxMessageSize < 0 {
		errs = append(errs, errors.New("max_message_size: must not be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Codec returns the configured compression; auto reports whether the
// codec is chosen per region.
func (c *Config) Codec() (tag compress.Tag, auto bool, err error) {
	if strings.EqualFold(c.Compression, CompressionAuto) {
		return compress.None, true, nil
	}
	tag, err = compress.ParseTag(c.Compression)
	if err != nil {
		return compress.None, false, fmt.Errorf("compression: %w", err)
	}
	return tag, false, nil
}

// ReadSchema builds the read schema. Each entry is a standard channel name
// (X, Y, Z, Intensity, Red, Green, Blue) or "Name:type:size".
func (c *Config) ReadSchema() (schema.Schema, error) {
	if len(c.Schema) == 0 {
		return schema.Standard(), nil
	}

	s := schema.New()
	for _, entry := range c.Schema {
		if name, rest, ok := strings.Cut(entry, ":"); ok {
			typ, size, ok := strings.Cut(rest, ":")
			n, err := strconv.Atoi(size)
			if !ok || err != nil || n <= 0 {
				return schema.Schema{}, fmt.Errorf("schema: bad channel %q, want name:type:size", entry)
			}
			t, err := parseType(typ)
			if err != nil {
				return schema.Schema{}, err
			}
			s = s.Add(name, t, n)
			continue
		}

		switch strings.ToLower(entry) {
		case "x":
			s = s.X()
		case "y":
			s = s.Y()
		case "z":
			s = s.Z()
		case "intensity":
			s = s.Intensity()
		case "red":
			s = s.Red()
		case "green":
			s = s.Green()
		case "blue":
			s = s.Blue()
		default:
			return schema.Schema{}, fmt.Errorf("schema: unknown channel %q", entry)
		}
	}
	return s, nil
}

// ProtocolConfig projects the connection settings.
func (c *Config) ProtocolConfig() *protocol.Config {
	pc := protocol.DefaultConfig()
	pc.ConnectTimeout = c.ConnectTimeout
	pc.WriteTimeout = c.WriteTimeout
	pc.MaxMessageSize = c.MaxMessageSize
	return pc
}

func parseType(s string) (schema.Type, error) {
	switch t := schema.Type(strings.ToLower(s)); t {
	case schema.Floating, schema.Unsigned, schema.Signed:
		return t, nil
	default:
		return "", fmt.Errorf("schema: unknown channel type %q", s)
	}
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.TrimSpace(name)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
