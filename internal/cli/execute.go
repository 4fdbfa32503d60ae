package cli

import (
	"fmt"
	"os"
)

// Execute runs the memoryctl root command, exiting the process with a
// non-zero status on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
