package main

import (
	"fmt"
	"os"

	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch uerrors.GetErrorCode(err) {
	case uerrors.ErrCancelled:
		return 130
	case uerrors.ErrManifestRejected, uerrors.ErrConfig, uerrors.ErrInvalidInput:
		return 2
	default:
		return 1
	}
}
