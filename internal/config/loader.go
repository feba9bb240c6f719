// Package config loads llamad settings from YAML, JSON or TOML files and
// the environment. Zero values mean "unspecified"; ApplyDefaults fills them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendLlama  = "llama"
	BackendReplay = "replay"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr          = ":8080"
	DefaultModelsDir     = "~/models/llm"
	DefaultContextSize   = 2048
	DefaultMaxTokens     = 512
	DefaultTemperature   = 0.7
	DefaultTopP          = 0.9
	DefaultMaxQueueDepth = 32
	DefaultMaxWaitMS     = 30_000
	DefaultUnloadPollMS  = 10
	DefaultMaxBodyBytes  = 1 << 20
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// CORS configures cross-origin access to the HTTP API.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Backend selects the engine: "llama" or "replay".
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	ContextSize int   `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads     int   `json:"threads" yaml:"threads" toml:"threads"`
	UseGPU      *bool `json:"use_gpu" yaml:"use_gpu" toml:"use_gpu"`

	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64  `json:"top_p" yaml:"top_p" toml:"top_p"`
	StopMarkers []string `json:"stop_markers" yaml:"stop_markers" toml:"stop_markers"`

	MaxQueueDepth       int   `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS           int   `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	UnloadPollMS        int   `json:"unload_poll_ms" yaml:"unload_poll_ms" toml:"unload_poll_ms"`
	MaxBodyBytes        int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	InferTimeoutSeconds int64 `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`

	CORS CORS `json:"cors" yaml:"cors" toml:"cors"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Backend == "" {
		c.Backend = BackendLlama
	}
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopP <= 0 {
		c.TopP = DefaultTopP
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.MaxWaitMS <= 0 {
		c.MaxWaitMS = DefaultMaxWaitMS
	}
	if c.UnloadPollMS <= 0 {
		c.UnloadPollMS = DefaultUnloadPollMS
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvAddr         = "LLAMAD_ADDR"
	EnvModelsDir    = "LLAMAD_MODELS_DIR"
	EnvDefaultModel = "LLAMAD_DEFAULT_MODEL"
	EnvBackend      = "LLAMAD_BACKEND"
	EnvLogLevel     = "LLAMAD_LOG_LEVEL"
	EnvUseGPU       = "LLAMAD_USE_GPU"
)

// ApplyEnv overrides fields from LLAMAD_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setStr(EnvAddr, &c.Addr)
	setStr(EnvModelsDir, &c.ModelsDir)
	setStr(EnvDefaultModel, &c.DefaultModel)
	setStr(EnvBackend, &c.Backend)
	setStr(EnvLogLevel, &c.LogLevel)
	if v, ok := os.LookupEnv(EnvUseGPU); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUseGPU, err)
		}
		c.UseGPU = &b
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "", BackendLlama, BackendReplay:
	default:
		errs = append(errs, fmt.Errorf("backend %q: want %q or %q", c.Backend, BackendLlama, BackendReplay))
	}
	if c.Threads < 0 {
		errs = append(errs, errors.New("threads must not be negative"))
	}
	if c.TopP > 1 {
		errs = append(errs, errors.New("top_p must be within [0, 1]"))
	}
	if c.Temperature < 0 {
		errs = append(errs, errors.New("temperature must not be negative"))
	}
	for _, m := range c.StopMarkers {
		if m == "" {
			errs = append(errs, errors.New("stop_markers must not contain empty strings"))
			break
		}
	}
	return errors.Join(errs...)
}

// GPU reports the effective use_gpu setting.
func (c Config) GPU() bool { return c.UseGPU != nil && *c.UseGPU }

// MaxWait converts MaxWaitMS to a duration.
func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitMS) * time.Millisecond }

// UnloadPoll converts UnloadPollMS to a duration.
func (c Config) UnloadPoll() time.Duration { return time.Duration(c.UnloadPollMS) * time.Millisecond }
