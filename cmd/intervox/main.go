// Command intervox evaluates recorded interview answers.
//
// It scores a spoken answer against a rubric of indicator phrases, reports
// speaking pace and pauses, and aggregates a session into a final report. Run
// it as an HTTP service (serve) or directly on audio files (evaluate).
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "intervox: %v\n", err)
		os.Exit(1)
	}
}
