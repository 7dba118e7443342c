package stitch

import "errors"

var (
	// ErrNoCrops is returned when Stitch is called with an empty input.
	ErrNoCrops = errors.New("no label crops to stitch")

	// ErrInvalidCrop is returned when any input image is missing or empty.
	// A partial composite would desynchronize the offset table, so the
	// whole bundle fails.
	ErrInvalidCrop = errors.New("invalid label crop")
)
