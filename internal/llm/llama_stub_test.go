//go:build !llama

package llm

import (
	"errors"
	"testing"
)

func TestLlamaStub_RefusesLoad(t *testing.T) {
	if LlamaBuilt {
		t.Fatalf("stub build reports llama support")
	}
	m, err := NewLlamaBackend().LoadModel("/models/x.gguf", ModelParams{})
	if m != nil || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got (%v, %v), want ErrUnavailable", m, err)
	}
}
