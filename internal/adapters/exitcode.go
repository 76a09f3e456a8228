package adapters

import (
	"errors"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/watcher"
	"github.com/gitgovernance/core/internal/workflow"
)

// Exit codes for a CLI/tooling surface built on top of this module.
// Codes 0-3 are the literal scheme spec.md §6 defines for "any
// CLI/tooling built on top": success, unexpected error, invalid state
// transition, project not initialised. Codes 4 and up are this module's
// own finer-grained extensions of "unexpected error", kept distinct for
// callers that want them but collapsing to ExitGenericError is always a
// spec-compliant fallback.
const (
	ExitOK                    = 0
	ExitGenericError          = 1
	ExitInvalidTransition     = 2
	ExitProjectNotInitialized = 3

	ExitNotFound          = 4
	ExitVerificationError = 5
	ExitIOError           = 6
)

// ExitCodeFor maps an error produced anywhere in this module to a
// process exit code, preserving the error kind distinctions made in
// spec.md §7.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var notInit *watcher.ProjectNotInitialized
	if errors.As(err, &notInit) {
		return ExitProjectNotInitialized
	}

	var invalidState *InvalidState
	if errors.As(err, &invalidState) {
		return ExitInvalidTransition
	}
	var invalidTransition *workflow.InvalidTransition
	if errors.As(err, &invalidTransition) {
		return ExitInvalidTransition
	}

	var notFound *recordstore.NotFound
	if errors.As(err, &notFound) {
		return ExitNotFound
	}

	var checksumMismatch *envelope.ChecksumMismatch
	if errors.As(err, &checksumMismatch) {
		return ExitVerificationError
	}
	var unverifiedSig *envelope.UnverifiedSignature
	if errors.As(err, &unverifiedSig) {
		return ExitVerificationError
	}
	var unknownKey *envelope.UnknownKey
	if errors.As(err, &unknownKey) {
		return ExitVerificationError
	}

	var ioErr *recordstore.IoError
	if errors.As(err, &ioErr) {
		return ExitIOError
	}

	return ExitGenericError
}
