package domain

import "errors"

var (
	// ErrMalformedDefinition marks a stored definition that failed to parse or
	// validate. Sweeps skip such definitions.
	ErrMalformedDefinition = errors.New("malformed definition")

	// ErrUnhandledDefinition marks a definition variant the engine has no
	// computation for. Sweeps abort on it.
	ErrUnhandledDefinition = errors.New("unhandled definition variant")

	ErrInvalidJourneyGraph = errors.New("invalid journey graph")
)
