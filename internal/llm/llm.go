// Package llm is the boundary between the generation loop and an inference
// engine. The loop only needs the small operation set below; engines live
// behind it:
//
//   - llama.go: go-llama.cpp bindings, compiled with `-tags=llama`. Its
//     Tokenize ignores addBOS and parseSpecial: the bindings always prepend
//     BOS and always parse special tokens.
//   - llama_stub.go: the default CGO-free build, which refuses to load.
//   - replay/: a scripted engine for tests and CGO-free runs.
//   - gguf.go: GGUF header reader shared by engines and the model registry.
package llm

import "errors"

// Token is an opaque vocabulary id. Its text is only meaningful to the Model
// that produced it.
type Token int32

var (
	// ErrUnavailable is returned when the requested engine was not compiled in.
	ErrUnavailable = errors.New("llm: engine not built in")
	// ErrPromptEval marks failures of the initial prompt pass for engines
	// that only evaluate the prompt once sampling starts.
	ErrPromptEval = errors.New("llm: prompt evaluation failed")
)

// Backend loads model files.
type Backend interface {
	LoadModel(path string, p ModelParams) (Model, error)
}

// Model is a loaded set of weights plus its vocabulary.
type Model interface {
	NewContext(p ContextParams) (Context, error)
	// Tokenize converts text to tokens. addBOS prepends the beginning marker;
	// parseSpecial lets control tokens written in text map to their ids.
	// Engines may treat both as hints; see the package doc.
	Tokenize(text string, addBOS, parseSpecial bool) ([]Token, error)
	// TokenToPiece returns the raw bytes of one token. They need not be valid
	// UTF-8 on their own.
	TokenToPiece(t Token) []byte
	IsEndOfSequence(t Token) bool
	Describe() ModelInfo
	Close() error
}

// Context is the mutable attention state for one model. It is advanced by
// Decode and used by at most one generation at a time.
type Context interface {
	Size() int
	ClearMemory()
	Decode(tokens []Token) error
	NewSampler(p SamplerParams) (Sampler, error)
	// StateSize reports the bytes needed to snapshot the context state.
	StateSize() int64
	Close() error
}

// Sampler picks the next token from the logits of the last Decode.
type Sampler interface {
	Sample() (Token, error)
	Accept(t Token)
	Close()
}

type ModelParams struct {
	GPULayers int
	UseMmap   bool
}

type ContextParams struct {
	Size    int
	Threads int
}

type SamplerParams struct {
	Temperature float32
	TopP        float32
	Seed        uint32
	// MaxTokens is a hint for engines that need a budget up front.
	MaxTokens int
}

// ModelInfo describes a loaded model. Zero fields are unknown.
type ModelInfo struct {
	Path         string `json:"path"`
	Description  string `json:"description"`
	Architecture string `json:"architecture,omitempty"`
	Params       int64  `json:"n_params"`
	ContextSize  int    `json:"n_ctx"`
	TrainContext int    `json:"n_ctx_train,omitempty"`
	VocabSize    int    `json:"n_vocab"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}
