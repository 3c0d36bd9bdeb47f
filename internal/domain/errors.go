package domain

import "errors"

// Error taxonomy shared by the router, handlers, stores and the HTTP layer.
// Callers classify failures with errors.Is.
var (
	// ErrUnknownTaskKind is returned when a request carries a kind the router does not know.
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrInvalidRequest is returned for a malformed request payload (bad month, missing image).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrHandlerUnavailable is returned when a handler's dependencies cannot be constructed
	// (for example a missing API credential).
	ErrHandlerUnavailable = errors.New("handler unavailable")

	// ErrExternalService covers extraction, reasoning and market-data failures, timeouts included.
	ErrExternalService = errors.New("external service error")

	// ErrStoreUnavailable is returned when the backing medium cannot be opened or read.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is the normal outcome of looking up an unknown purchase ID.
	ErrNotFound = errors.New("not found")
)
