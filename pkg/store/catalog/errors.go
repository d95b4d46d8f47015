package catalog

import "errors"

// ============================================================================
// Catalog Errors
// ============================================================================
// Sentinel errors returned by catalog implementations. Implementations wrap
// these with backend context, so always match with errors.Is.

var (
	// ErrNotFound indicates that no entry exists for the requested path.
	//
	// This error is returned when:
	// - Resolve is called with a path that was never stored
	// - Remove is called for an entry that was already removed
	ErrNotFound = errors.New("catalog entry not found")

	// ErrInvalidPath indicates a path that cannot be normalized into a
	// catalog key.
	//
	// This error is returned when:
	// - The path is empty or contains only whitespace
	ErrInvalidPath = errors.New("invalid path")

	// ErrCatalogClosed indicates an operation on a closed catalog.
	ErrCatalogClosed = errors.New("catalog is closed")

	// ErrCorruptEntry indicates that a stored entry could not be decoded.
	//
	// This error is returned when:
	// - The serialized entry fails to unmarshal
	// - The entry's stored path disagrees with the key it was found under
	ErrCorruptEntry = errors.New("corrupt catalog entry")
)
