package commands

import (
	"errors"

	pdfraster "github.com/docker/pdfraster"
	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/outputsink"
	"github.com/docker/pdfraster/pkg/rangefetch"
	"github.com/docker/pdfraster/pkg/render"
)

// Exit codes for the CLI surface.
const (
	ExitSuccess           = 0
	ExitInvalidArgs       = 2
	ExitSourceNotFound    = 3
	ExitRemoteFetchFailed = 4
	ExitDecodeFailed      = 5
	ExitOutputFailed      = 6
)

// CLIError carries an explicit exit code alongside a message, for failures
// a command detects itself (bad flag combinations, one or more failed
// pages) before or after calling the library.
type CLIError struct {
	code int
	err  error
}

func (e *CLIError) Error() string { return e.err.Error() }
func (e *CLIError) Unwrap() error { return e.err }
func (e *CLIError) Code() int     { return e.code }

// ExitCodeFor maps a fatal Convert/acquisition error to its CLI exit code.
// Per-page failures never reach here; they're attached to a DeliveryResult
// and the call as a whole still returns success.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, acquire.ErrSourceNotFound):
		return ExitSourceNotFound
	case errors.Is(err, rangefetch.ErrServerRangeUnsupported):
		return ExitRemoteFetchFailed
	case errors.Is(err, pdfraster.ErrInvalidInput):
		return ExitInvalidArgs
	case errors.Is(err, pdfraster.ErrConfigError):
		return ExitDecodeFailed
	case isDecodeOpenError(err):
		return ExitDecodeFailed
	default:
		return 1
	}
}

func isDecodeOpenError(err error) bool {
	var decodeErr *render.DecodeOpenError
	return errors.As(err, &decodeErr)
}

// pageFailureExitCode classifies a single page's DeliveryResult.Error,
// reported after an otherwise-successful call: a per-page failure never
// makes the call itself fail.
func pageFailureExitCode(err error) int {
	var outputErr *outputsink.OutputError
	if errors.As(err, &outputErr) {
		return ExitOutputFailed
	}
	return ExitDecodeFailed
}
