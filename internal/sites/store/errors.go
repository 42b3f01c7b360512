package store

import (
	dErrors "sitestats/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across the memory
	// and PostgreSQL implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

	// ErrDuplicateVersion signals a write that would leave two open versions
	// (or two identical validity starts) for the same URL.
	ErrDuplicateVersion = dErrors.New(dErrors.CodeConflict, "duplicate site version for url")

	// ErrDuplicateName signals a lookup row that already exists.
	ErrDuplicateName = dErrors.New(dErrors.CodeConflict, "name already exists")

	// ErrUnknownAssociation signals a language or geo zone that is missing
	// from the lookup tables.
	ErrUnknownAssociation = dErrors.New(dErrors.CodeBadRequest, "unknown language or geo zone")
)
