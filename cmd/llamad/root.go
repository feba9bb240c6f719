package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mx37/grapheneos-ai/internal/config"
	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/llm/replay"
	"github.com/mx37/grapheneos-ai/internal/manager"
	"github.com/mx37/grapheneos-ai/internal/registry"
)

// options holds persistent flag values shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	addr         string
	modelsDir    string
	defaultModel string
	backend      string
	contextSize  int
	threads      int
	useGPU       bool
	stopMarkers  string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&options{}) }

func newRootCmdWith(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "llamad",
		Short:         "Local streaming text generation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults LLAMAD_LOG_LEVEL or info)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults LLAMAD_ADDR)")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for model files")
	pf.StringVar(&opts.defaultModel, "default-model", "", "Model id used when a request omits one")
	pf.StringVar(&opts.backend, "backend", "", "Engine: llama|replay")
	pf.IntVar(&opts.contextSize, "ctx-size", 0, "Context window in tokens")
	pf.IntVar(&opts.threads, "threads", 0, "CPU threads (0 = cores-1)")
	pf.BoolVar(&opts.useGPU, "gpu", false, "Offload all layers to the accelerator")
	pf.StringVar(&opts.stopMarkers, "stop-markers", "", "Comma separated stop markers replacing the defaults")

	root.AddCommand(
		newServeCmd(opts),
		newGenerateCmd(opts),
		newModelsCmd(opts),
		newInfoCmd(opts),
		newCompletionCmd(root),
	)
	return root
}

// loadConfig merges the config file, environment and explicitly set flags,
// in that order of increasing precedence.
func (o *options) loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("log-format", func() { cfg.LogFormat = o.logFormat })
	set("addr", func() { cfg.Addr = o.addr })
	set("models-dir", func() { cfg.ModelsDir = o.modelsDir })
	set("default-model", func() { cfg.DefaultModel = o.defaultModel })
	set("backend", func() { cfg.Backend = o.backend })
	set("ctx-size", func() { cfg.ContextSize = o.contextSize })
	set("threads", func() { cfg.Threads = o.threads })
	set("gpu", func() { v := o.useGPU; cfg.UseGPU = &v })
	set("stop-markers", func() { cfg.StopMarkers = splitCSV(o.stopMarkers) })
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// buildManager scans the models directory and constructs a manager for cfg.
func buildManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	scanOpts := []registry.Option{registry.WithLogger(log)}
	var backend llm.Backend
	switch cfg.Backend {
	case config.BackendReplay:
		backend = replay.New()
		scanOpts = append(scanOpts, registry.WithExtensions(replay.Extensions...))
	case config.BackendLlama:
		backend = llm.NewLlamaBackend()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	reg, err := registry.NewScanner(scanOpts...).Scan(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("scan models: %w", err)
	}
	return manager.NewWithConfig(manager.ManagerConfig{
		Registry:      reg,
		DefaultModel:  cfg.DefaultModel,
		Backend:       backend,
		Engine:        cfg.Backend,
		ContextSize:   cfg.ContextSize,
		Threads:       cfg.Threads,
		UseGPU:        cfg.GPU(),
		MaxTokens:     cfg.MaxTokens,
		Temperature:   float32(cfg.Temperature),
		TopP:          float32(cfg.TopP),
		StopMarkers:   cfg.StopMarkers,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		UnloadPoll:    cfg.UnloadPoll(),
		Logger:        &log,
		Publisher:     manager.LogPublisher{Log: log},
	}), nil
}

// setup is the common prologue of commands that need a manager.
func (o *options) setup(cmd *cobra.Command) (config.Config, zerolog.Logger, *manager.Manager, error) {
	cfg, err := o.loadConfig(cmd.Flags())
	if err != nil {
		return cfg, zerolog.Nop(), nil, err
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	mgr, err := buildManager(cfg, log)
	return cfg, log, mgr, err
}

// splitCSV splits a comma separated list, trimming blanks and dropping
// empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
	}})
	return completionCmd
}
