package image

import "errors"

var (
	// ErrImageCorrupt indicates the file is not a usable chainfs image.
	//
	// This error is returned when:
	// - The magic number does not match
	// - The header carries impossible geometry
	// - The chunk table checksum does not match the table
	// - The file is shorter than the geometry requires
	ErrImageCorrupt = errors.New("image file is corrupt")

	// ErrImageVersion indicates the image was written by an incompatible
	// format version.
	ErrImageVersion = errors.New("unsupported image format version")
)
