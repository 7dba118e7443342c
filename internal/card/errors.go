package card

import "errors"

// Distinguished repository errors. Callers map these to different response
// semantics (not-found vs conflict vs generic), so they must survive
// wrapping via errors.Is.
var (
	// ErrScanNotFound is returned when a scan identifier resolves to nothing.
	ErrScanNotFound = errors.New("graded card scan not found")

	// ErrStitchedLabelNotFound is returned when a stitched label identifier
	// resolves to nothing.
	ErrStitchedLabelNotFound = errors.New("stitched label not found")

	// ErrCardNotFound is returned by reference-data lookups with no hit.
	ErrCardNotFound = errors.New("reference card not found")

	// ErrDuplicateCertification is returned when a collection item with the
	// same certification number already exists.
	ErrDuplicateCertification = errors.New("collection item with this certification number already exists")

	// ErrInvalidTransition is returned when a status change is not in the
	// allowed-transition table.
	ErrInvalidTransition = errors.New("invalid processing status transition")
)
