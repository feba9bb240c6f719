//go:build llama

package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt reports whether this binary was compiled with llama.cpp.
const LlamaBuilt = true

// llamaEOS is the synthetic end token returned once Predict finishes.
const llamaEOS Token = -1

type llamaBackend struct{}

// NewLlamaBackend returns the go-llama.cpp engine. The bindings own backend
// initialization, so there is nothing to set up here.
func NewLlamaBackend() Backend { return llamaBackend{} }

func (llamaBackend) LoadModel(path string, p ModelParams) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("llama: model path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	h, err := ReadGGUFHeader(path)
	if err != nil {
		return nil, fmt.Errorf("llama: %s: %w", path, err)
	}
	return &llamaModel{path: path, params: p, header: h, size: fi.Size()}, nil
}

// llamaModel holds what is needed to create contexts. go-llama.cpp keeps
// weights and context in one handle, so the weights are mapped by NewContext
// and tokenization runs through the most recent context.
type llamaModel struct {
	path   string
	params ModelParams
	header GGUFHeader
	size   int64

	mu  sync.Mutex
	cur *llamaContext
}

func (m *llamaModel) NewContext(p ContextParams) (Context, error) {
	opts := []llama.ModelOption{
		llama.SetContext(p.Size),
		llama.SetMMap(m.params.UseMmap),
	}
	if m.params.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(m.params.GPULayers))
	}
	l, err := llama.New(m.path, opts...)
	if err != nil {
		return nil, err
	}
	c := &llamaContext{model: m, l: l, size: p.Size, threads: max(1, p.Threads)}
	m.mu.Lock()
	m.cur = c
	m.mu.Unlock()
	return c, nil
}

func (m *llamaModel) current() *llamaContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Tokenize ignores addBOS and parseSpecial. It always prepends BOS and parses
// special tokens because the bindings expose neither switch.
func (m *llamaModel) Tokenize(text string, addBOS, parseSpecial bool) ([]Token, error) {
	c := m.current()
	if c == nil {
		return nil, errors.New("llama: tokenize needs a context")
	}
	n, ids, err := c.l.TokenizeString(text, llama.SetThreads(c.threads))
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > len(ids) {
		return nil, fmt.Errorf("llama: tokenizer returned %d", n)
	}
	out := make([]Token, n)
	for i := range out {
		out[i] = Token(ids[i])
	}
	c.prompt = text
	return out, nil
}

// TokenToPiece resolves tokens returned by Sample. Those ids index the
// pieces seen in the current generation, not the vocabulary.
func (m *llamaModel) TokenToPiece(t Token) []byte {
	c := m.current()
	if c == nil || t < 0 || int(t) >= len(c.pieces) {
		return nil
	}
	return []byte(c.pieces[t])
}

func (m *llamaModel) IsEndOfSequence(t Token) bool { return t == llamaEOS }

func (m *llamaModel) Describe() ModelInfo {
	info := ModelInfo{
		Path:         m.path,
		Architecture: m.header.Architecture,
		TrainContext: m.header.ContextLength,
		VocabSize:    m.header.VocabSize,
		SizeBytes:    m.size,
	}
	info.Description = strings.TrimSpace(m.header.Name + " " + m.header.Architecture)
	if c := m.current(); c != nil {
		info.ContextSize = c.size
	}
	return info
}

func (m *llamaModel) Close() error {
	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()
	return nil
}

// llamaContext adapts the push-style Predict call to the pull-style
// Decode/Sample cycle. Predict runs on its own goroutine; each token callback
// hands its piece to Sample and then waits until Decode lets it continue.
type llamaContext struct {
	model   *llamaModel
	l       *llama.LLama
	size    int
	threads int

	prompt string
	primed bool
	pieces []string
	run    *llamaRun
}

type llamaRun struct {
	pieces chan string
	resume chan struct{}
	abort  chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *llamaRun) callback(tok string) bool {
	select {
	case r.pieces <- tok:
	case <-r.abort:
		return false
	}
	select {
	case <-r.resume:
		return true
	case <-r.abort:
		return false
	}
}

func (r *llamaRun) stop() {
	r.once.Do(func() { close(r.abort) })
	<-r.done
}

func (c *llamaContext) Size() int { return c.size }

func (c *llamaContext) ClearMemory() {
	c.endRun()
	c.primed = false
	c.pieces = c.pieces[:0]
}

// Decode records the prompt on the first call and resumes the paused
// Predict goroutine on later ones.
func (c *llamaContext) Decode(tokens []Token) error {
	if c.run == nil {
		if len(tokens) > 0 {
			c.primed = true
		}
		return nil
	}
	select {
	case c.run.resume <- struct{}{}:
	case <-c.run.done:
	}
	return nil
}

func (c *llamaContext) NewSampler(p SamplerParams) (Sampler, error) {
	return &llamaSampler{c: c, opts: predictOptions(p, c.threads)}, nil
}

// StateSize is not exposed by the bindings.
func (c *llamaContext) StateSize() int64 { return 0 }

func (c *llamaContext) Close() error {
	c.endRun()
	c.model.mu.Lock()
	if c.model.cur == c {
		c.model.cur = nil
	}
	c.model.mu.Unlock()
	if c.l != nil {
		c.l.Free()
		c.l = nil
	}
	return nil
}

func (c *llamaContext) endRun() {
	if c.run != nil {
		c.run.stop()
		c.run = nil
	}
}

func (c *llamaContext) start(opts []llama.PredictOption) {
	r := &llamaRun{
		pieces: make(chan string),
		resume: make(chan struct{}),
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.l.SetTokenCallback(r.callback)
	c.run = r
	prompt := c.prompt
	go func() {
		defer close(r.done)
		_, r.err = c.l.Predict(prompt, opts...)
	}()
}

type llamaSampler struct {
	c    *llamaContext
	opts []llama.PredictOption
	seen int
}

func (s *llamaSampler) Sample() (Token, error) {
	c := s.c
	if c.run == nil {
		if !c.primed {
			return 0, errors.New("llama: sample before prompt decode")
		}
		c.start(s.opts)
	}
	select {
	case piece := <-c.run.pieces:
		c.pieces = append(c.pieces, piece)
		s.seen++
		return Token(len(c.pieces) - 1), nil
	case <-c.run.done:
		if c.run.err != nil {
			if s.seen == 0 {
				return 0, fmt.Errorf("%w: %v", ErrPromptEval, c.run.err)
			}
			return 0, c.run.err
		}
		return llamaEOS, nil
	}
}

// Accept is a no-op: Predict applies penalties itself.
func (s *llamaSampler) Accept(Token) {}

func (s *llamaSampler) Close() { s.c.endRun() }

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

func predictOptions(p SamplerParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(int(p.Seed)))
	}
	return po
}
