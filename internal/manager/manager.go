package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/session"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	cur          *ModelInfo
	err          string
	registry     []types.Model
	defaultModel string
	engine       string

	// loadMu serializes loads and unloads against each other.
	loadMu sync.Mutex
	sess   *session.Session

	// Load and generation defaults
	ctxSize     int
	threads     int
	useGPU      bool
	maxTokens   int
	temperature float32
	topP        float32

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	genCh         chan struct{} // size 1: single in-flight generation
	queueCh       chan struct{} // buffered: queue slots

	publisher EventPublisher
	log       zerolog.Logger
	startTime time.Time

	loadsTotal       atomic.Uint64
	generationsTotal atomic.Uint64
	cancelledTotal   atomic.Uint64
}

// New builds a Manager over reg using the llama.cpp engine and package defaults.
func New(reg []types.Model, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		DefaultModel: defaultModel,
	})
}

// NewWithBackend is New with an explicit engine.
func NewWithBackend(reg []types.Model, defaultModel, engine string, b llm.Backend) *Manager {
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		DefaultModel: defaultModel,
		Engine:       engine,
		Backend:      b,
	})
}

// Ready reports whether a model is loaded and accepting generations.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.sess.IsLoaded()
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the model list, e.g. after a rescan.
func (m *Manager) SetRegistry(reg []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), reg...)
	m.mu.Unlock()
}

// SetEventPublisher installs a publisher for lifecycle events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.Publish(e)
}

// Close stops any generation and releases the loaded model.
func (m *Manager) Close() error {
	return m.Unload()
}
