package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrUnauthorized means no identity could be resolved for the request
	ErrUnauthorized = goerr.New("unauthorized")

	// ErrEmbeddingUnavailable means the embedding model failed or timed out
	ErrEmbeddingUnavailable = goerr.New("embedding unavailable")

	// ErrIndexQueryFailed means the vector index could not be queried
	ErrIndexQueryFailed = goerr.New("vector index query failed")

	// ErrNoteStoreUnavailable means notes could not be fetched from the note store
	ErrNoteStoreUnavailable = goerr.New("note store unavailable")

	// ErrModelStreamFault means the generative model call failed. It is fatal for the request.
	ErrModelStreamFault = goerr.New("model stream fault")

	// ErrStepBoundExceeded marks a conversation that was stopped at the step bound
	ErrStepBoundExceeded = goerr.New("step bound exceeded")

	// ErrToolInvocationMalformed means the model sent a tool call that does not match the schema
	ErrToolInvocationMalformed = goerr.New("tool invocation malformed")

	ErrInvalidRequest  = goerr.New("invalid request")
	ErrInvalidSettings = goerr.New("invalid settings")
	ErrNoteNotFound    = goerr.New("note not found")

	// ErrNoteRejected means the ingest policy denied the note
	ErrNoteRejected = goerr.New("note rejected by policy")
)
