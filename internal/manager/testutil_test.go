package manager

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mx37/grapheneos-ai/internal/llm/replay"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// helloScript streams "Hi there! 😀" with the emoji split over two tokens,
// then a stop marker split over two more.
var helloScript = replay.Script{
	Description: "hello",
	Pieces:      []string{"Hi", " there", "! ", "hex:f0 9f 98", "hex:80", "<|im_", "end|>", "never shown"},
}

const helloText = "Hi there! 😀"

// loopScript never ends on its own.
var loopScript = replay.Script{
	Description: "loop",
	Pieces:      []string{"la "},
	Loop:        true,
	DelayMS:     2,
}

func testRegistry() []types.Model {
	return []types.Model{
		{ID: "hello", Name: "Hello", Path: "/models/hello.gguf", Quant: "Q4_K_M", Family: "qwen2"},
		{ID: "other", Name: "Other", Path: "/models/other.gguf"},
	}
}

func newTestManager(t *testing.T, s replay.Script, mutate ...func(*ManagerConfig)) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		Registry:      testRegistry(),
		DefaultModel:  "hello",
		Backend:       replay.NewWithScript(s),
		Engine:        "replay",
		ContextSize:   256,
		Threads:       1,
		MaxQueueDepth: 2,
		MaxWait:       200 * time.Millisecond,
		UnloadPoll:    time.Millisecond,
		Publisher:     pub,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

// errWriter fails every write.
type errWriter struct{ writes int }

func (e *errWriter) Write(p []byte) (int, error) {
	e.writes++
	return 0, errors.New("write failed")
}

// decodeStream splits an NDJSON body into token chunks and the final line.
func decodeStream(t *testing.T, body string) ([]string, types.FinalLine) {
	t.Helper()
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("empty stream")
	}
	var chunks []string
	for _, ln := range lines[:len(lines)-1] {
		var tl types.TokenLine
		if err := json.Unmarshal([]byte(ln), &tl); err != nil {
			t.Fatalf("token line %q: %v", ln, err)
		}
		chunks = append(chunks, tl.Token)
	}
	var final types.FinalLine
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &final); err != nil {
		t.Fatalf("final line: %v", err)
	}
	if !final.Done {
		t.Fatalf("last line is not final: %q", lines[len(lines)-1])
	}
	return chunks, final
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
