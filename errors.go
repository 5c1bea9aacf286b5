package loom

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("loom: no store configured")
	ErrStoreClosed = errors.New("loom: store closed")

	// Not found errors.
	ErrWorkflowNotFound = errors.New("loom: workflow not found")
	ErrRunNotFound      = errors.New("loom: run not found")
	ErrEventNotFound    = errors.New("loom: event not found")
	ErrStateNotFound    = errors.New("loom: state entry not found")

	// Resume-path errors. Whichever of a manual resume and the timeout
	// watcher consumes a token first wins; the loser observes
	// ErrTokenConsumed.
	ErrTokenNotFound = errors.New("loom: pause token not found")
	ErrTokenConsumed = errors.New("loom: pause token already consumed")
	ErrTokenExpired  = errors.New("loom: pause token expired")

	// Step execution errors.
	ErrStepTimeout = errors.New("loom: step timed out")

	// State errors.
	ErrNonNumericState = errors.New("loom: state value is not numeric")

	// Run state errors.
	ErrRunNotResumable = errors.New("loom: run is not in a resumable state")
	ErrRunTerminal     = errors.New("loom: run is in a terminal state")
)
