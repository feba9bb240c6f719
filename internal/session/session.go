// Package session owns one loaded model and its inference context, and runs
// generations against it one at a time.
//
// Load, Unload and the start of Generate are serialized by a mutex. A running
// generation works on a snapshot of the handles and is stopped cooperatively:
// RequestStop and Unload set a flag the loop checks after every token, and
// Unload then waits for the loop to exit before releasing anything.
package session

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/textstream"
)

// Defaults applied when the corresponding parameter is unset.
const (
	DefaultContextSize  = 2048
	DefaultMaxTokens    = 512
	defaultPollInterval = 10 * time.Millisecond
	gpuAllLayers        = 999
)

// LoadParams configures Load. Non-positive sizes select defaults.
type LoadParams struct {
	Path        string
	ContextSize int
	Threads     int
	UseGPU      bool
}

func (p *LoadParams) applyDefaults() {
	if p.ContextSize <= 0 {
		p.ContextSize = DefaultContextSize
	}
	if p.Threads <= 0 {
		p.Threads = max(1, runtime.NumCPU()-1)
	}
}

// Session is an exclusive wrapper around one model and context.
type Session struct {
	backend      llm.Backend
	log          zerolog.Logger
	pollInterval time.Duration
	markers      []string

	mu     sync.Mutex
	model  llm.Model
	lctx   llm.Context
	params LoadParams

	loaded        atomic.Bool
	generating    atomic.Bool
	stopRequested atomic.Bool
	phase         atomic.Int32
	memUsage      atomic.Int64
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// WithPollInterval sets how often Unload checks for the loop to exit.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStopMarkers replaces the default ChatML stop markers.
func WithStopMarkers(markers ...string) Option {
	return func(s *Session) { s.markers = append([]string(nil), markers...) }
}

// New returns an empty session backed by b.
func New(b llm.Backend, opts ...Option) *Session {
	s := &Session{
		backend:      b,
		log:          zerolog.Nop(),
		pollInterval: defaultPollInterval,
		markers:      textstream.DefaultMarkers,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces whatever is loaded with the model at p.Path. On failure the
// session is left empty.
func (s *Session) Load(ctx context.Context, p LoadParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.applyDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadLocked()

	start := time.Now()
	mp := llm.ModelParams{UseMmap: true}
	if p.UseGPU {
		mp.GPULayers = gpuAllLayers
	}
	model, err := s.backend.LoadModel(p.Path, mp)
	if err != nil {
		s.log.Error().Err(err).Str("path", p.Path).Msg("model load failed")
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	lctx, err := model.NewContext(llm.ContextParams{Size: p.ContextSize, Threads: p.Threads})
	if err != nil {
		_ = model.Close()
		s.log.Error().Err(err).Str("path", p.Path).Int("n_ctx", p.ContextSize).Msg("context creation failed")
		return fmt.Errorf("%w: %w", ErrContext, err)
	}
	s.model, s.lctx, s.params = model, lctx, p
	s.memUsage.Store(lctx.StateSize())
	s.loaded.Store(true)
	s.log.Info().
		Str("path", p.Path).
		Int("n_ctx", p.ContextSize).
		Int("threads", p.Threads).
		Bool("gpu", p.UseGPU).
		Dur("took", time.Since(start)).
		Msg("model loaded")
	return nil
}

// Unload stops any running generation, waits for it to exit and releases the
// context and then the model. It is a no-op when nothing is loaded.
func (s *Session) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadLocked()
}

func (s *Session) unloadLocked() {
	if s.model == nil {
		return
	}
	s.stopRequested.Store(true)
	waited := time.Now()
	for s.generating.Load() {
		time.Sleep(s.pollInterval)
	}
	if err := s.lctx.Close(); err != nil {
		s.log.Warn().Err(err).Msg("context close")
	}
	if err := s.model.Close(); err != nil {
		s.log.Warn().Err(err).Msg("model close")
	}
	s.log.Info().Str("path", s.params.Path).Dur("waited", time.Since(waited)).Msg("model unloaded")
	s.model, s.lctx, s.params = nil, nil, LoadParams{}
	s.loaded.Store(false)
	s.memUsage.Store(0)
}

// Generate runs one generation to completion and returns the cleaned text.
// A stop request or ctx cancellation ends it early with the partial text and
// FinishCancelled; that is not an error. Failures after the first token
// return a *GenerationError holding the partial result.
func (s *Session) Generate(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	if s.model == nil {
		s.mu.Unlock()
		return Result{}, ErrNoModel
	}
	// Starts are serialized by mu, so check-then-set is race free. The stop
	// flag is cleared before generating becomes visible so that a stop issued
	// by anyone who has seen Generating() report true is never lost.
	if s.generating.Load() {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	s.stopRequested.Store(false)
	s.generating.Store(true)
	model, lctx := s.model, s.lctx
	s.mu.Unlock()

	defer func() {
		s.memUsage.Store(lctx.StateSize())
		s.phase.Store(int32(PhaseIdle))
		s.generating.Store(false)
	}()
	return s.run(ctx, model, lctx, req)
}

// RequestStop asks the running generation to finish after its current token.
// The flag is cleared when a generation starts, so calling it while idle has
// no effect.
func (s *Session) RequestStop() { s.stopRequested.Store(true) }

// IsLoaded reports whether a model and context are present.
func (s *Session) IsLoaded() bool { return s.loaded.Load() }

// Generating reports whether a generation is in flight.
func (s *Session) Generating() bool { return s.generating.Load() }

// Phase reports where the running generation is.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Session) setPhase(p Phase) { s.phase.Store(int32(p)) }

// Info describes the loaded model.
func (s *Session) Info() (llm.ModelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return llm.ModelInfo{}, ErrNoModel
	}
	info := s.model.Describe()
	if info.Path == "" {
		info.Path = s.params.Path
	}
	if info.ContextSize == 0 {
		info.ContextSize = s.params.ContextSize
	}
	return info, nil
}

// MemoryUsage reports the context state size in bytes as of the last load or
// generation, or 0 when nothing is loaded.
func (s *Session) MemoryUsage() int64 { return s.memUsage.Load() }

// Params returns the parameters of the current load.
func (s *Session) Params() LoadParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}
