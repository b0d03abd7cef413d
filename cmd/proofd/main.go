package main

import (
	"errors"
	"fmt"
	"os"

	"proofquorum/fault"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error categories to stable process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		return 3
	case errors.Is(err, fault.ErrInvalidOperation):
		return 4
	case errors.Is(err, fault.ErrConflict):
		return 5
	case errors.Is(err, fault.ErrTransient):
		return 6
	default:
		return 1
	}
}
