package main

import (
	"os"

	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

// Exit codes for scripting.
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotSignedIn), errors.Is(err, errors.ErrSessionExpired):
		return ExitCodeAuthRequired
	case errors.Is(err, errors.ErrProviderAuthFailed), errors.Is(err, errors.ErrBackendAuthFailed):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
