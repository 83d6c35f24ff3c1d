// Package orch coordinates the application pipeline: it validates
// preconditions, drives items through stages, and fans work out to the
// search, scoring, document, and browser-session services.
package orch

import "errors"

var (
	// ErrPreconditionNotMet indicates the item's current stage does not
	// allow the requested operation.
	ErrPreconditionNotMet = errors.New("operation precondition not met")

	// ErrExternalService indicates a collaborator (search, docs, LLM)
	// failed; the item keeps its stage so the operation can be retried.
	ErrExternalService = errors.New("external service failure")

	// ErrFormFillFailed indicates the application form could not be
	// completed; the item has been moved to the failed stage.
	ErrFormFillFailed = errors.New("form fill failed")
)
