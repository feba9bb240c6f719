package manager

import (
	"context"
	"time"

	"github.com/mx37/grapheneos-ai/internal/session"
)

// EnsureModel makes modelID the loaded model. It is a no-op when that model
// is already loaded. An empty id selects the default model.
func (m *Manager) EnsureModel(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return noModelError{}
		}
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.RLock()
	same := m.cur != nil && m.cur.ID == modelID && m.state == StateReady
	m.mu.RUnlock()
	if same && m.sess.IsLoaded() {
		return nil
	}
	return m.loadLocked(ctx, modelID, LoadOptions{})
}

// Load always (re)loads modelID with opts, replacing whatever is loaded.
// A running generation is stopped first.
func (m *Manager) Load(ctx context.Context, modelID string, opts LoadOptions) error {
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return noModelError{}
		}
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	return m.loadLocked(ctx, modelID, opts)
}

// resolveForInfer picks the model an inference request runs against: the
// requested one, else whatever is loaded, else the default.
func (m *Manager) resolveForInfer(ctx context.Context, requested string) (string, error) {
	if requested == "" {
		if id := m.currentID(); id != "" && m.sess.IsLoaded() {
			return id, nil
		}
	}
	if requested == "" && m.defaultModel == "" {
		return "", noModelError{}
	}
	if requested == "" {
		requested = m.defaultModel
	}
	if err := m.EnsureModel(ctx, requested); err != nil {
		return "", err
	}
	return requested, nil
}

// loadLocked performs the load. Caller holds m.loadMu.
func (m *Manager) loadLocked(ctx context.Context, modelID string, opts LoadOptions) error {
	mdl, ok := m.getModelByID(modelID)
	if !ok {
		return ErrModelNotFound(modelID)
	}
	p := session.LoadParams{
		Path:        mdl.Path,
		ContextSize: m.ctxSize,
		Threads:     m.threads,
		UseGPU:      m.useGPU,
	}
	if opts.ContextSize > 0 {
		p.ContextSize = opts.ContextSize
	}
	if opts.Threads > 0 {
		p.Threads = opts.Threads
	}
	if opts.UseGPU != nil {
		p.UseGPU = *opts.UseGPU
	}

	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()
	m.publish(Event{Name: EventEnsureStart, ModelID: modelID, Fields: map[string]any{"path": mdl.Path}})

	start := time.Now()
	if err := m.sess.Load(ctx, p); err != nil {
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		m.cur = nil
		m.mu.Unlock()
		modelLoaded.Set(0)
		loadFailures.Inc()
		m.log.Error().Err(err).Str("model", modelID).Str("path", mdl.Path).Msg("model load failed")
		m.publish(Event{Name: EventEnsureError, ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return classify(err, modelID)
	}
	took := time.Since(start)

	// Session applied its own defaults to anything left unset.
	applied := m.sess.Params()
	m.mu.Lock()
	m.cur = &ModelInfo{
		ID:          mdl.ID,
		Name:        mdl.Name,
		Path:        mdl.Path,
		Quant:       mdl.Quant,
		Family:      mdl.Family,
		ContextSize: applied.ContextSize,
		Threads:     applied.Threads,
		UseGPU:      applied.UseGPU,
		LoadedAt:    time.Now(),
	}
	m.state = StateReady
	m.mu.Unlock()
	m.loadsTotal.Add(1)
	modelLoaded.Set(1)
	loadDuration.Observe(took.Seconds())
	m.log.Info().Str("model", modelID).Int("ctx", applied.ContextSize).Int("threads", applied.Threads).
		Bool("gpu", applied.UseGPU).Dur("took", took).Msg("model loaded")
	m.publish(Event{Name: EventEnsureReady, ModelID: modelID, Fields: map[string]any{"took_ms": took.Milliseconds()}})
	return nil
}
