package manager

import (
	"github.com/google/uuid"

	"github.com/mx37/grapheneos-ai/internal/session"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// currentIDLocked returns the loaded model id. Caller holds m.mu.
func (m *Manager) currentIDLocked() string {
	if m.cur == nil {
		return ""
	}
	return m.cur.ID
}

func (m *Manager) currentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentIDLocked()
}

// sessionRequest fills unset request fields from the manager defaults.
func (m *Manager) sessionRequest(req types.InferRequest, sink session.Sink) session.Request {
	sr := session.Request{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Seed:        req.Seed,
		Sink:        sink,
	}
	if sr.MaxTokens <= 0 {
		sr.MaxTokens = m.maxTokens
	}
	if sr.Temperature <= 0 {
		sr.Temperature = m.temperature
	}
	if sr.TopP <= 0 {
		sr.TopP = m.topP
	}
	if len(req.Stop) > 0 {
		sr.StopMarkers = req.Stop
	}
	return sr
}

func usageOf(r session.Result) types.Usage {
	return types.Usage{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.PromptTokens + r.CompletionTokens,
		TTFTMillis:       r.TTFT.Milliseconds(),
		DurationMillis:   r.Duration.Milliseconds(),
	}
}

func newOpID() string { return uuid.NewString() }
