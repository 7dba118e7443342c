package imagestore

import "errors"

var (
	// ErrOutsideRoot is returned when a destination path escapes the
	// storage root it was supposed to stay within.
	ErrOutsideRoot = errors.New("destination path resolves outside the storage root")

	// ErrUnreadableImage is returned when a stored image cannot be opened
	// or decoded.
	ErrUnreadableImage = errors.New("image file cannot be read or decoded")
)
