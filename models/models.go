package models

import (
	"errors"
	"time"
)

// Error kinds surfaced by the personalization pipeline. Each upstream maps
// its failures onto one of these so the orchestrator can decide whether a
// retry makes sense.
var (
	// ErrSegmentUnavailable is returned when the CDP cannot resolve a visitor.
	ErrSegmentUnavailable = errors.New("segment unavailable")
	// ErrPageNotFound is returned when the CMS has no entry for the page id.
	ErrPageNotFound = errors.New("page not found")
	// ErrUpstreamUnavailable is returned on CMS transport or auth failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRewriteFailed is returned when the LLM errors or returns output that
	// does not preserve the page's field set.
	ErrRewriteFailed = errors.New("rewrite failed")
	// ErrRewriteTimeout is returned when the LLM call exceeds its deadline.
	ErrRewriteTimeout = errors.New("rewrite timeout")
	// ErrStoreUnavailable is returned when the cache store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by the fetch phase when no personalized page
	// exists for a (page, segment) pair.
	ErrNotFound = errors.New("personalized page not found")
	// ErrRunInFlight is returned when another personalization run already
	// holds the claim for the same (page, segment) pair.
	ErrRunInFlight = errors.New("personalization already in flight")
)

// ErrorKind maps a pipeline error to its wire-level name, or "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSegmentUnavailable):
		return "segment_unavailable"
	case errors.Is(err, ErrPageNotFound):
		return "page_not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrRewriteFailed):
		return "rewrite_failed"
	case errors.Is(err, ErrRewriteTimeout):
		return "rewrite_timeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRunInFlight):
		return "run_in_flight"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// Retryable reports whether an error kind is transient. PageNotFound and a
// malformed rewrite indicate a bad input and are never retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrSegmentUnavailable) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRewriteTimeout)
}

// Segment is an industry label, the dimension pages are personalized on.
type Segment string

func (s Segment) String() string { return string(s) }

// PersonalizationRequest is one inbound personalize call. Immutable.
type PersonalizationRequest struct {
	VisitorID   string  `json:"visitor_id"`
	PageID      string  `json:"page_id"`
	SegmentHint Segment `json:"segment,omitempty"`
}

// Field is one named piece of page content. Order matters: the slice keeps
// the CMS block order so rewritten content maps back onto the page.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PageContent is the structured representation of a CMS page.
type PageContent struct {
	PageID string  `json:"page_id"`
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Fields []Field `json:"fields"`
}

// FieldNames returns the ordered field names.
func (p PageContent) FieldNames() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	return names
}

// PersonalizedPage is the durable artifact, unique per (PageID, Segment).
type PersonalizedPage struct {
	PageID    string      `json:"page_id"`
	Segment   Segment     `json:"segment"`
	Content   PageContent `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// OperationResult is the synchronous answer to the personalize phase.
type OperationResult struct {
	Success   bool    `json:"success"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Segment   Segment `json:"segment,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
}
