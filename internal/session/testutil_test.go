package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mx37/grapheneos-ai/internal/llm"
)

const fakeEOS llm.Token = -1

// fakeEngine is a scripted llm.Backend that records how it is driven.
type fakeEngine struct {
	pieces [][]byte
	loop   bool // cycle pieces instead of ending with EOS

	failLoad     bool
	failContext  bool
	failTokenize bool
	failPrime    bool
	failDecodeAt int // 1-based index of the failing single-token decode
	failSampleAt int // 1-based index of the failing sample

	// When gate is non-nil every Sample announces itself on sampled and then
	// waits for gate to be closed or receive.
	gate    chan struct{}
	sampled chan int

	mu         sync.Mutex
	loads      int
	ctxParams  llm.ContextParams
	cleared    int
	primed     int
	decodes    int
	samples    int
	accepted   []llm.Token
	closeOrder []string
	inFlight   atomic.Int32
	violation  atomic.Bool
}

func newFake(pieces ...string) *fakeEngine {
	e := &fakeEngine{}
	for _, p := range pieces {
		e.pieces = append(e.pieces, []byte(p))
	}
	return e
}

func (e *fakeEngine) LoadModel(path string, _ llm.ModelParams) (llm.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failLoad {
		return nil, errors.New("bad magic")
	}
	e.loads++
	return &fakeModel{e: e, path: path}, nil
}

func (e *fakeEngine) enter() { e.inFlight.Add(1) }
func (e *fakeEngine) exit()  { e.inFlight.Add(-1) }

func (e *fakeEngine) record(what string) {
	if e.inFlight.Load() != 0 {
		e.violation.Store(true)
	}
	e.mu.Lock()
	e.closeOrder = append(e.closeOrder, what)
	e.mu.Unlock()
}

func (e *fakeEngine) snapshot() (cleared, primed, decodes, samples int, accepted []llm.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared, e.primed, e.decodes, e.samples, append([]llm.Token(nil), e.accepted...)
}

type fakeModel struct {
	e    *fakeEngine
	path string
}

func (m *fakeModel) NewContext(p llm.ContextParams) (llm.Context, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	if m.e.failContext {
		return nil, errors.New("out of memory")
	}
	m.e.ctxParams = p
	return &fakeContext{e: m.e, size: p.Size}, nil
}

// Tokenize yields BOS plus one token per word.
func (m *fakeModel) Tokenize(text string, addBOS, _ bool) ([]llm.Token, error) {
	if m.e.failTokenize {
		return nil, errors.New("tokenizer exploded")
	}
	var out []llm.Token
	if addBOS {
		out = append(out, 1000)
	}
	for i := range strings.Fields(text) {
		out = append(out, llm.Token(1001+i))
	}
	return out, nil
}

func (m *fakeModel) TokenToPiece(t llm.Token) []byte {
	if t < 0 || int(t) >= len(m.e.pieces) {
		return nil
	}
	return m.e.pieces[t]
}

func (m *fakeModel) IsEndOfSequence(t llm.Token) bool { return t == fakeEOS }

func (m *fakeModel) Describe() llm.ModelInfo {
	return llm.ModelInfo{Path: m.path, Description: "fake", VocabSize: len(m.e.pieces) + 1}
}

func (m *fakeModel) Close() error {
	m.e.record("model")
	return nil
}

type fakeContext struct {
	e      *fakeEngine
	size   int
	past   int
	cursor int
}

func (c *fakeContext) Size() int { return c.size }

func (c *fakeContext) ClearMemory() {
	c.e.mu.Lock()
	c.e.cleared++
	c.e.mu.Unlock()
	c.past, c.cursor = 0, 0
}

func (c *fakeContext) Decode(tokens []llm.Token) error {
	c.e.enter()
	defer c.e.exit()
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.past == 0 {
		c.e.primed++
		if c.e.failPrime {
			return errors.New("eval failed")
		}
	} else {
		c.e.decodes++
		if c.e.decodes == c.e.failDecodeAt {
			return errors.New("kv cache full")
		}
	}
	c.past += len(tokens)
	return nil
}

func (c *fakeContext) NewSampler(llm.SamplerParams) (llm.Sampler, error) {
	return &fakeSampler{c: c}, nil
}

func (c *fakeContext) StateSize() int64 { return int64(c.past) * 100 }

func (c *fakeContext) Close() error {
	c.e.record("context")
	return nil
}

type fakeSampler struct{ c *fakeContext }

func (s *fakeSampler) Sample() (llm.Token, error) {
	e := s.c.e
	e.enter()
	defer e.exit()
	e.mu.Lock()
	e.samples++
	n := e.samples
	e.mu.Unlock()
	if e.sampled != nil {
		e.sampled <- n
	}
	if e.gate != nil {
		<-e.gate
	}
	if n == e.failSampleAt {
		return 0, errors.New("nan logits")
	}
	if s.c.cursor >= len(e.pieces) {
		if !e.loop || len(e.pieces) == 0 {
			return fakeEOS, nil
		}
		s.c.cursor = 0
	}
	t := llm.Token(s.c.cursor)
	s.c.cursor++
	return t, nil
}

func (s *fakeSampler) Accept(t llm.Token) {
	s.c.e.mu.Lock()
	s.c.e.accepted = append(s.c.e.accepted, t)
	s.c.e.mu.Unlock()
}

func (s *fakeSampler) Close() {}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func loaded(t *testing.T, e *fakeEngine, opts ...Option) *Session {
	t.Helper()
	s := New(e, append([]Option{WithPollInterval(time.Millisecond)}, opts...)...)
	if err := s.Load(testCtx(t), LoadParams{Path: "/models/fake.gguf", ContextSize: 64}); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

// collector is a Sink that records chunks.
type collector struct {
	mu     sync.Mutex
	chunks []string
}

func (c *collector) sink(chunk string) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

func (c *collector) joined() string { return strings.Join(c.all(), "") }
