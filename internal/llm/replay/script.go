package replay

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Script describes what the replay engine produces. Pieces are returned by
// successive Sample calls; a piece prefixed with "hex:" is decoded to raw
// bytes so scripts can split multi-byte characters across tokens.
type Script struct {
	Description string   `json:"description" yaml:"description" toml:"description"`
	Pieces      []string `json:"pieces" yaml:"pieces" toml:"pieces"`
	// Loop restarts Pieces instead of ending with end-of-sequence.
	Loop bool `json:"loop" yaml:"loop" toml:"loop"`
	// DelayMS pauses before each sampled token.
	DelayMS int `json:"delay_ms" yaml:"delay_ms" toml:"delay_ms"`

	FailTokenize bool `json:"fail_tokenize" yaml:"fail_tokenize" toml:"fail_tokenize"`
	FailPrime    bool `json:"fail_prime" yaml:"fail_prime" toml:"fail_prime"`
	// FailDecodeAt fails the n-th single-token decode (1-based).
	FailDecodeAt int `json:"fail_decode_at" yaml:"fail_decode_at" toml:"fail_decode_at"`
	// FailSampleAt fails the n-th sample (1-based).
	FailSampleAt int `json:"fail_sample_at" yaml:"fail_sample_at" toml:"fail_sample_at"`
}

// Extensions lists the file suffixes LoadScript understands.
var Extensions = []string{".yaml", ".yml", ".json", ".toml"}

// LoadScript reads a script, choosing the decoder by file extension.
func LoadScript(path string) (Script, error) {
	var s Script
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &s)
	case ".json":
		err = json.Unmarshal(b, &s)
	case ".toml":
		err = toml.Unmarshal(b, &s)
	default:
		return s, fmt.Errorf("replay: unsupported script extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return s, fmt.Errorf("replay: decode %s: %w", path, err)
	}
	if _, err := s.decodePieces(); err != nil {
		return s, fmt.Errorf("replay: %s: %w", path, err)
	}
	return s, nil
}

func (s Script) decodePieces() ([][]byte, error) {
	out := make([][]byte, len(s.Pieces))
	for i, p := range s.Pieces {
		if raw, ok := strings.CutPrefix(p, "hex:"); ok {
			b, err := hex.DecodeString(strings.ReplaceAll(raw, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("piece %d: %w", i, err)
			}
			out[i] = b
			continue
		}
		out[i] = []byte(p)
	}
	return out, nil
}
