package application

import (
	"errors"
	"fmt"

	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Sentinel errors returned by the application services. Callers classify
// them with errors.Is; the HTTP adapter maps each to a status code.
var (
	ErrExternalServiceUnreachable = errors.New("visual-diff service unreachable")
	ErrRemoteProjectNotFound      = errors.New("remote project not found")
	ErrMissingCredentials         = errors.New("project has no remote credentials")
	ErrInvalidWebhookSignature    = errors.New("invalid webhook signature")
	ErrRemoteSyncFailed           = errors.New("remote service rejected the change")
	ErrRunNotCompleted            = errors.New("test run is not completed")
	ErrInvalidInput               = errors.New("invalid input")

	// Not-found sentinels alias the port errors so store and service errors
	// classify the same way.
	ErrProjectNotFound = driven.ErrProjectNotFound
	ErrRunNotFound     = driven.ErrRunNotFound
	ErrResultNotFound  = driven.ErrResultNotFound
)

// invalidInput wraps ErrInvalidInput with a field-level message.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// classifyRemote wraps a visual-diff client error as unreachable, keeping
// the original error in the chain. 404s become ErrRemoteProjectNotFound
// only when notFound is set.
func classifyRemote(err error, notFound bool) error {
	if notFound && errors.Is(err, driven.ErrRemoteNotFound) {
		return fmt.Errorf("%w: %w", ErrRemoteProjectNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrExternalServiceUnreachable, err)
}
