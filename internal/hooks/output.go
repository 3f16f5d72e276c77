package hooks

import (
	"fmt"
	"io"
	"os"
)

// writeResult copies the server's answer to stdout for the CMS log.
func writeResult(w io.Writer, data []byte) {
	w.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(w)
	}
}

// reportError logs to stderr. Hooks never fail the CMS request that ran
// them, so the exit code stays 0.
func reportError(err error) {
	fmt.Fprintf(os.Stderr, "affinity hook: %v\n", err)
}
