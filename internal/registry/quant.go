package registry

import (
	"path/filepath"
	"regexp"
	"strings"
)

// quantPattern matches llama.cpp quantization labels such as Q4_K_M,
// IQ3_XXS, Q8_0, F16 and BF16.
var quantPattern = regexp.MustCompile(`^(?:I?Q[1-8](?:_[0-9A-Z]+)*|F16|F32|BF16)$`)

// QuantFromName extracts the quantization label from a model file name,
// e.g. "qwen2.5-0.5b-instruct-q4_k_m.gguf" gives "Q4_K_M". It returns ""
// when the name carries no label.
func QuantFromName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	fields := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '.' })
	for i := len(fields) - 1; i >= 0; i-- {
		if f := strings.ToUpper(fields[i]); quantPattern.MatchString(f) {
			return f
		}
	}
	return ""
}
