// Package lamarlerr defines the error kinds the core raises at request
// boundaries. Callers compare with errors.Is; the HTTP layer maps each
// sentinel to a status code.
package lamarlerr

import "errors"

var (
	// ErrNotFound is raised when an episode id is unknown to the store.
	ErrNotFound = errors.New("episode not found")

	// ErrBadShape is raised when a shape name is not recognized.
	ErrBadShape = errors.New("unknown shape")

	// ErrGeometryInfeasible is raised when an episode's robot/radius/shape
	// combination cannot physically fit the target shape.
	ErrGeometryInfeasible = errors.New("geometry condition not satisfied")

	// ErrLLMUnavailable is raised when the configured LLM adapter cannot be
	// reached.
	ErrLLMUnavailable = errors.New("llm adapter unavailable")

	// ErrLLMMalformed is raised when the LLM adapter's response cannot be
	// parsed into the structured document contract.
	ErrLLMMalformed = errors.New("llm response malformed")

	// ErrLLMRejected is raised when a structurally-parseable LLM response
	// fails whitelist validation (schema or expression grammar).
	ErrLLMRejected = errors.New("llm response rejected")

	// ErrSchemaViolation is raised when a prior document fails structural
	// validation.
	ErrSchemaViolation = errors.New("prior document schema violation")

	// ErrExprRejected is raised when a reward formula contains a
	// disallowed construct.
	ErrExprRejected = errors.New("reward expression rejected")

	// ErrBufferUnderfilled is an internal signal, not surfaced to clients:
	// a buffer was sampled before warmup. It never crosses a request
	// boundary.
	ErrBufferUnderfilled = errors.New("replay buffer underfilled")
)
