package card

// Status represents the processing lifecycle of a graded card scan.
type Status string

const (
	StatusUploaded     Status = "uploaded"
	StatusExtracted    Status = "extracted"
	StatusStitched     Status = "stitched"
	StatusOCRProcessed Status = "ocr_processed"
	StatusMatched      Status = "matched"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusExtracted,
	StatusStitched,
	StatusOCRProcessed,
	StatusMatched,
	StatusApproved,
	StatusRejected,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// labeledStatuses are the statuses in which a scan must carry a label
// image path.
var labeledStatuses = map[Status]struct{}{
	StatusExtracted:    {},
	StatusStitched:     {},
	StatusOCRProcessed: {},
	StatusMatched:      {},
	StatusApproved:     {},
	StatusRejected:     {},
}

type statusTransition struct {
	from Status
	to   Status
}

// allowedTransitions is the explicit forward table. Extraction is
// re-enterable: a scan already in extracted may be extracted again so a
// manual retry can overwrite a bad crop.
var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusUploaded, to: StatusExtracted}:      {},
	{from: StatusExtracted, to: StatusExtracted}:     {},
	{from: StatusExtracted, to: StatusStitched}:      {},
	{from: StatusStitched, to: StatusOCRProcessed}:   {},
	{from: StatusOCRProcessed, to: StatusMatched}:    {},
	{from: StatusMatched, to: StatusApproved}:        {},
	{from: StatusMatched, to: StatusRejected}:        {},
	// Deleting a stitched label resets its member scans backward.
	{from: StatusStitched, to: StatusExtracted}:      {},
	{from: StatusOCRProcessed, to: StatusExtracted}:  {},
	{from: StatusMatched, to: StatusExtracted}:       {},
}

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsTerminal reports whether s ends the pipeline for a scan.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// RequiresLabel reports whether a scan in this status must have a label
// image path.
func (s Status) RequiresLabel() bool {
	_, ok := labeledStatuses[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from s
// to next.
func (s Status) CanTransition(next Status) bool {
	_, ok := allowedTransitions[statusTransition{from: s, to: next}]
	return ok
}

// AllStatuses returns the full status set in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}
