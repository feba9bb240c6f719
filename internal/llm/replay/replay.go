// Package replay is a deterministic llm engine that plays back a Script.
// It lets the generation path run end to end without llama.cpp and lets
// tests inject failures at exact points.
package replay

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mx37/grapheneos-ai/internal/llm"
)

// EOS is the end-of-sequence token.
const EOS llm.Token = 1 << 20

// promptBase offsets prompt token ids away from piece ids.
const promptBase llm.Token = 1 << 21

// bytesPerToken is the simulated KV footprint of one decoded token.
const bytesPerToken = 2048

// Backend loads scripts from disk, or serves a fixed script for any path.
type Backend struct {
	fixed *Script
}

// New returns a backend that treats model paths as script files.
func New() *Backend { return &Backend{} }

// NewWithScript returns a backend that serves s regardless of path.
func NewWithScript(s Script) *Backend { return &Backend{fixed: &s} }

func (b *Backend) LoadModel(path string, _ llm.ModelParams) (llm.Model, error) {
	s := b.fixed
	if s == nil {
		loaded, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		s = &loaded
	}
	pieces, err := s.decodePieces()
	if err != nil {
		return nil, err
	}
	return &Model{path: path, script: *s, pieces: pieces}, nil
}

// Model is a loaded script.
type Model struct {
	path   string
	script Script
	pieces [][]byte
	ctxLen int
	closed atomic.Bool
}

func (m *Model) NewContext(p llm.ContextParams) (llm.Context, error) {
	if p.Size <= 0 {
		return nil, errors.New("replay: context size must be positive")
	}
	m.ctxLen = p.Size
	return &Context{m: m, size: p.Size}, nil
}

// Tokenize yields one token per whitespace separated word, plus BOS.
func (m *Model) Tokenize(text string, addBOS, _ bool) ([]llm.Token, error) {
	if m.script.FailTokenize {
		return nil, errors.New("replay: tokenizer failure")
	}
	var out []llm.Token
	if addBOS {
		out = append(out, promptBase)
	}
	for i := range strings.Fields(text) {
		out = append(out, promptBase+llm.Token(i+1))
	}
	return out, nil
}

func (m *Model) TokenToPiece(t llm.Token) []byte {
	if t < 0 || int(t) >= len(m.pieces) {
		return nil
	}
	return m.pieces[t]
}

func (m *Model) IsEndOfSequence(t llm.Token) bool { return t == EOS }

func (m *Model) Describe() llm.ModelInfo {
	desc := m.script.Description
	if desc == "" {
		desc = "replay script"
	}
	return llm.ModelInfo{
		Path:         m.path,
		Description:  desc,
		Architecture: "replay",
		Params:       int64(len(m.pieces)),
		ContextSize:  m.ctxLen,
		VocabSize:    len(m.pieces) + 1,
	}
}

func (m *Model) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool { return m.closed.Load() }

// Context tracks decoded positions and the playback cursor.
type Context struct {
	m       *Model
	size    int
	past    int
	cursor  int
	decodes int
	samples int
	closed  atomic.Bool
}

func (c *Context) Size() int { return c.size }

func (c *Context) ClearMemory() {
	c.past = 0
	c.cursor = 0
	c.decodes = 0
	c.samples = 0
}

func (c *Context) Decode(tokens []llm.Token) error {
	if c.past+len(tokens) > c.size {
		return fmt.Errorf("replay: context full (%d + %d > %d)", c.past, len(tokens), c.size)
	}
	if c.past == 0 && c.m.script.FailPrime {
		return errors.New("replay: prompt evaluation failure")
	}
	if c.past > 0 {
		c.decodes++
		if c.decodes == c.m.script.FailDecodeAt {
			return fmt.Errorf("replay: decode failure at step %d", c.decodes)
		}
	}
	c.past += len(tokens)
	return nil
}

func (c *Context) NewSampler(llm.SamplerParams) (llm.Sampler, error) {
	return &Sampler{c: c}, nil
}

func (c *Context) StateSize() int64 { return int64(c.past) * bytesPerToken }

func (c *Context) Close() error {
	c.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool { return c.closed.Load() }

// Sampler walks the script pieces in order.
type Sampler struct {
	c        *Context
	accepted []llm.Token
}

func (s *Sampler) Sample() (llm.Token, error) {
	c := s.c
	if d := c.m.script.DelayMS; d > 0 {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}
	c.samples++
	if c.samples == c.m.script.FailSampleAt {
		return 0, fmt.Errorf("replay: sample failure at step %d", c.samples)
	}
	if c.cursor >= len(c.m.pieces) {
		if !c.m.script.Loop || len(c.m.pieces) == 0 {
			return EOS, nil
		}
		c.cursor = 0
	}
	t := llm.Token(c.cursor)
	c.cursor++
	return t, nil
}

func (s *Sampler) Accept(t llm.Token) { s.accepted = append(s.accepted, t) }

// Accepted returns the tokens passed to Accept, in order.
func (s *Sampler) Accepted() []llm.Token { return append([]llm.Token(nil), s.accepted...) }

func (s *Sampler) Close() {}
