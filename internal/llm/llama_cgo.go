//go:build llama

package llm

// rpath $ORIGIN lets the loader find libllama.so and libggml*.so next to the
// binary in ./bin; -L points the linker at the same directory.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
