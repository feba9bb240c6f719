package manager

import (
	"errors"
	"os"

	"github.com/mx37/grapheneos-ai/internal/llm"
)

// SanityReport describes startup checks for the engine and default model.
type SanityReport struct {
	Engine           string `json:"engine"`
	EngineAvailable  bool   `json:"engine_available"`
	ModelsFound      int    `json:"models_found"`
	DefaultModel     string `json:"default_model,omitempty"`
	DefaultModelPath string `json:"default_model_path,omitempty"`
	DefaultModelOK   bool   `json:"default_model_ok"`
	Error            string `json:"error,omitempty"`
}

// SanityCheck validates that the engine can run and that the default model,
// if configured, is present and readable. It does not mutate state and is
// safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{
		Engine:       m.engine,
		ModelsFound:  len(m.ListModels()),
		DefaultModel: m.defaultModel,
	}
	r.EngineAvailable = m.engine != defaultEngine || llm.LlamaBuilt
	if !r.EngineAvailable {
		r.Error = "llama support not built (missing 'llama' build tag)"
	}
	if m.defaultModel == "" {
		return r
	}
	mdl, ok := m.getModelByID(m.defaultModel)
	if !ok {
		r.setErr(ErrModelNotFound(m.defaultModel))
		return r
	}
	r.DefaultModelPath = mdl.Path
	fi, err := os.Stat(mdl.Path)
	if err != nil {
		r.setErr(err)
		return r
	}
	if fi.IsDir() {
		r.setErr(errors.New("default model path is a directory"))
		return r
	}
	if m.engine == defaultEngine {
		if _, err := llm.ReadGGUFHeader(mdl.Path); err != nil {
			r.setErr(err)
			return r
		}
	}
	r.DefaultModelOK = true
	return r
}

// setErr keeps the first error.
func (r *SanityReport) setErr(err error) {
	if r.Error == "" {
		r.Error = err.Error()
	}
}
