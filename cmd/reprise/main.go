// Command reprise builds and tests FreeBSD ports inside disposable,
// ZFS-snapshot-based jail sandboxes. See the root command's flag
// definitions (root.go) for the full flag surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
