package registry

import "errors"

var (
	// ErrVolumeExists indicates a registration under a name that is
	// already taken.
	ErrVolumeExists = errors.New("volume already registered")

	// ErrVolumeNotFound indicates a lookup for a name that was never
	// registered (or was removed).
	ErrVolumeNotFound = errors.New("volume not found")
)
