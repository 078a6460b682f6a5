package models

// Status is the reconciliation outcome for one dependency path
type Status string

const (
	StatusNew            Status = "new"
	StatusUnchanged      Status = "unchanged"
	StatusStaleContent   Status = "stale_content"
	StatusVersionChanged Status = "version_changed"
	StatusRemoved        Status = "removed"
)

// NeedsReview returns true for outcomes a reviewer has to look at
func (s Status) NeedsReview() bool {
	return s == StatusStaleContent || s == StatusVersionChanged
}

// Result represents the reconciliation of one dependency against the cache
type Result struct {
	Dependency Dependency
	Status     Status
	Detail     string // e.g. "upgraded 1.0 -> 2.0"
	CachePath  string // Record file the result refers to
	Err        error  // Non-fatal problem, e.g. an unreadable cached record
}

// SourceError represents a source whose enumeration failed
type SourceError struct {
	Source string
	Err    error
}

// Report holds everything one audit cycle produced
type Report struct {
	Results      []Result
	SourceErrors []SourceError
	Sources      []string // Source types that were enabled
}

// Count returns the number of results with the given status
func (r Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// HasDrift returns true if anything needs review or a source failed
func (r Report) HasDrift() bool {
	if len(r.SourceErrors) > 0 {
		return true
	}
	for _, res := range r.Results {
		if res.Status.NeedsReview() || res.Status == StatusNew || res.Status == StatusRemoved {
			return true
		}
	}
	return false
}

// HasErrors returns true if any result carries an error, such as a record
// that could not be read, captured or written
func (r Report) HasErrors() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}
