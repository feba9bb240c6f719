package llm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type ggufWriter struct{ bytes.Buffer }

func (w *ggufWriter) u32(v uint32) { _ = binary.Write(&w.Buffer, binary.LittleEndian, v) }
func (w *ggufWriter) u64(v uint64) { _ = binary.Write(&w.Buffer, binary.LittleEndian, v) }
func (w *ggufWriter) str(s string) { w.u64(uint64(len(s))); w.WriteString(s) }

func sampleGGUF() []byte {
	var w ggufWriter
	w.WriteString("GGUF")
	w.u32(3)  // version
	w.u64(291) // tensors
	w.u64(6)  // kv pairs
	w.str("general.architecture")
	w.u32(ggufString)
	w.str("qwen2")
	w.str("general.file_type")
	w.u32(ggufUint32)
	w.u32(15)
	w.str("general.tags")
	w.u32(ggufArray)
	w.u32(ggufString)
	w.u64(2)
	w.str("chat")
	w.str("small")
	w.str("general.name")
	w.u32(ggufString)
	w.str("Qwen2.5 0.5B Instruct")
	w.str("qwen2.context_length")
	w.u32(ggufUint32)
	w.u32(32768)
	w.str("tokenizer.ggml.tokens")
	w.u32(ggufArray)
	w.u32(ggufString)
	w.u64(151936)
	// vocabulary items are deliberately absent: the reader must stop here.
	return w.Bytes()
}

func TestParseGGUFHeader(t *testing.T) {
	h, err := ParseGGUFHeader(bytes.NewReader(sampleGGUF()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := GGUFHeader{
		Version:       3,
		TensorCount:   291,
		Architecture:  "qwen2",
		Name:          "Qwen2.5 0.5B Instruct",
		ContextLength: 32768,
		VocabSize:     151936,
	}
	if h != want {
		t.Fatalf("header = %+v, want %+v", h, want)
	}
}

func TestParseGGUFHeader_NotGGUF(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("GG"), []byte("ggml\x03\x00\x00\x00")} {
		if _, err := ParseGGUFHeader(bytes.NewReader(in)); !errors.Is(err, ErrNotGGUF) {
			t.Fatalf("%q: err = %v, want ErrNotGGUF", in, err)
		}
	}
}

func TestParseGGUFHeader_Truncated(t *testing.T) {
	full := sampleGGUF()
	if _, err := ParseGGUFHeader(bytes.NewReader(full[:40])); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}

func TestParseGGUFHeader_OldVersion(t *testing.T) {
	var w ggufWriter
	w.WriteString("GGUF")
	w.u32(1)
	if _, err := ParseGGUFHeader(bytes.NewReader(w.Bytes())); err == nil {
		t.Fatalf("expected unsupported version error")
	}
}

func TestReadGGUFHeader_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.gguf")
	if err := os.WriteFile(p, sampleGGUF(), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := ReadGGUFHeader(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if h.Architecture != "qwen2" || h.VocabSize != 151936 {
		t.Fatalf("unexpected header %+v", h)
	}
	if _, err := ReadGGUFHeader(filepath.Join(t.TempDir(), "missing.gguf")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
