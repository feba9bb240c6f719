package manager

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/session"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultEngine        = "llama"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry     []types.Model
	DefaultModel string
	// Backend runs generations. Nil selects the llama.cpp engine.
	Backend llm.Backend
	// Engine names the backend in status output and sanity checks.
	Engine string

	// Load defaults
	ContextSize int
	Threads     int
	UseGPU      bool

	// Generation defaults, used when a request leaves them unset.
	MaxTokens   int
	Temperature float32
	TopP        float32
	StopMarkers []string

	MaxQueueDepth int
	MaxWait       time.Duration
	// UnloadPoll is how often Unload checks for the running generation to exit.
	UnloadPoll time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateEmpty,
		registry:     cfg.Registry,
		defaultModel: cfg.DefaultModel,
		engine:       cfg.Engine,
		ctxSize:      cfg.ContextSize,
		threads:      cfg.Threads,
		useGPU:       cfg.UseGPU,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		topP:         cfg.TopP,
		publisher:    cfg.Publisher,
		log:          zerolog.Nop(),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	backend := cfg.Backend
	if backend == nil {
		backend = llm.NewLlamaBackend()
		m.engine = defaultEngine
	}
	if m.engine == "" {
		m.engine = "custom"
	}
	opts := []session.Option{
		session.WithLogger(m.log.With().Str("component", "session").Logger()),
		session.WithPollInterval(cfg.UnloadPoll),
	}
	if len(cfg.StopMarkers) > 0 {
		opts = append(opts, session.WithStopMarkers(cfg.StopMarkers...))
	}
	m.sess = session.New(backend, opts...)
	m.genCh = make(chan struct{}, 1)
	m.queueCh = make(chan struct{}, m.maxQueueDepth)
	m.startTime = time.Now()
	return m
}
