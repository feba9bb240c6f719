package llm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotGGUF is returned for files that do not start with the GGUF magic.
var ErrNotGGUF = errors.New("llm: not a GGUF file")

const (
	ggufMagic     = "GGUF"
	maxGGUFString = 1 << 20
)

// GGUF metadata value types.
const (
	ggufUint8 uint32 = iota
	ggufInt8
	ggufUint16
	ggufInt16
	ggufUint32
	ggufInt32
	ggufFloat32
	ggufBool
	ggufString
	ggufArray
	ggufUint64
	ggufInt64
	ggufFloat64
)

// GGUFHeader is the subset of GGUF metadata used for model listings and
// ModelInfo. Reading stops as soon as every field is known, so the
// tokenizer vocabulary (usually megabytes) is never read item by item.
type GGUFHeader struct {
	Version       uint32 `json:"version"`
	TensorCount   uint64 `json:"tensor_count"`
	Architecture  string `json:"architecture,omitempty"`
	Name          string `json:"name,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	VocabSize     int    `json:"vocab_size,omitempty"`
}

// ReadGGUFHeader opens path and parses its header.
func ReadGGUFHeader(path string) (GGUFHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return GGUFHeader{}, err
	}
	defer f.Close()
	return ParseGGUFHeader(f)
}

// ParseGGUFHeader reads a GGUF v2/v3 header from r.
func ParseGGUFHeader(r io.Reader) (GGUFHeader, error) {
	br := bufio.NewReader(r)
	var h GGUFHeader
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != ggufMagic {
		return h, ErrNotGGUF
	}
	if err := binary.Read(br, binary.LittleEndian, &h.Version); err != nil {
		return h, fmt.Errorf("gguf version: %w", err)
	}
	if h.Version < 2 {
		return h, fmt.Errorf("gguf: unsupported version %d", h.Version)
	}
	var kvCount uint64
	if err := binary.Read(br, binary.LittleEndian, &h.TensorCount); err != nil {
		return h, fmt.Errorf("gguf tensor count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &kvCount); err != nil {
		return h, fmt.Errorf("gguf kv count: %w", err)
	}
	for i := uint64(0); i < kvCount; i++ {
		key, err := readGGUFString(br)
		if err != nil {
			return h, fmt.Errorf("gguf key %d: %w", i, err)
		}
		var vt uint32
		if err := binary.Read(br, binary.LittleEndian, &vt); err != nil {
			return h, fmt.Errorf("gguf %s: %w", key, err)
		}
		switch {
		case key == "general.architecture" && vt == ggufString:
			h.Architecture, err = readGGUFString(br)
		case key == "general.name" && vt == ggufString:
			h.Name, err = readGGUFString(br)
		case h.Architecture != "" && key == h.Architecture+".context_length":
			var n uint64
			n, err = readGGUFUint(br, vt)
			h.ContextLength = int(n)
		case key == "tokenizer.ggml.tokens" && vt == ggufArray:
			var count uint64
			if _, count, err = readGGUFArrayHeader(br); err == nil {
				h.VocabSize = int(count)
				return h, nil
			}
		default:
			err = skipGGUFValue(br, vt)
		}
		if err != nil {
			return h, fmt.Errorf("gguf %s: %w", key, err)
		}
	}
	return h, nil
}

func readGGUFString(r *bufio.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxGGUFString {
		return "", fmt.Errorf("string length %d too large", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readGGUFUint(r *bufio.Reader, vt uint32) (uint64, error) {
	switch vt {
	case ggufUint32, ggufInt32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case ggufUint64, ggufInt64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	default:
		return 0, fmt.Errorf("type %d is not an integer", vt)
	}
}

func readGGUFArrayHeader(r *bufio.Reader) (uint32, uint64, error) {
	var et uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &et); err != nil {
		return 0, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, 0, err
	}
	return et, count, nil
}

func ggufScalarSize(vt uint32) int {
	switch vt {
	case ggufUint8, ggufInt8, ggufBool:
		return 1
	case ggufUint16, ggufInt16:
		return 2
	case ggufUint32, ggufInt32, ggufFloat32:
		return 4
	case ggufUint64, ggufInt64, ggufFloat64:
		return 8
	}
	return 0
}

func skipGGUFValue(r *bufio.Reader, vt uint32) error {
	if n := ggufScalarSize(vt); n > 0 {
		_, err := r.Discard(n)
		return err
	}
	switch vt {
	case ggufString:
		_, err := readGGUFString(r)
		return err
	case ggufArray:
		et, count, err := readGGUFArrayHeader(r)
		if err != nil {
			return err
		}
		if n := ggufScalarSize(et); n > 0 {
			total := count * uint64(n)
			for total > 0 {
				step := min(total, 1<<20)
				if _, err := r.Discard(int(step)); err != nil {
					return err
				}
				total -= step
			}
			return nil
		}
		for i := uint64(0); i < count; i++ {
			if err := skipGGUFValue(r, et); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown value type %d", vt)
}
