//go:build !llama

package llm

import "fmt"

// LlamaBuilt reports whether this binary was compiled with llama.cpp.
const LlamaBuilt = false

type llamaBackend struct{}

// NewLlamaBackend returns a backend that refuses every load. Build with
// `-tags=llama` for the real engine.
func NewLlamaBackend() Backend { return llamaBackend{} }

func (llamaBackend) LoadModel(path string, _ ModelParams) (Model, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}
