package models

import "errors"

// Error kinds shared across the indexing and retrieval pipeline. Callers classify
// wrapped errors with errors.Is; the HTTP layer maps each kind to a status code.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTooLarge           = errors.New("payload too large")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrExtractionEmpty    = errors.New("no text could be extracted")
	ErrBackendUnavailable = errors.New("embedding service unavailable")
	ErrBatchMismatch      = errors.New("embedding batch size mismatch")
	ErrTransferFailure    = errors.New("blob transfer failed")
	ErrPersistenceFailure = errors.New("no rows written")
)
