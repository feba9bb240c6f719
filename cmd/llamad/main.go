// Command llamad serves streaming text generation from a local GGUF model
// over HTTP and runs one-off generations from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llamad:", err)
		os.Exit(1)
	}
}
