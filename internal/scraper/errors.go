package scraper

import "fmt"

// FailureKind classifies why a fetch failed.
type FailureKind string

const (
	FailureProxy      FailureKind = "proxy"
	FailureRequest    FailureKind = "request"
	FailureStatus     FailureKind = "status"
	FailureBlocked    FailureKind = "blocked"
	FailureUnexpected FailureKind = "unexpected"
)

// TransportError is returned by Fetch for every failure. A fetch is never
// retried; the caller decides what an empty result means.
type TransportError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case FailureProxy:
		return fmt.Sprintf("proxy error fetching %s: %v (allowlist the forum host on the proxy)", e.URL, e.Err)
	case FailureStatus:
		return fmt.Sprintf("request error fetching %s: status code %d", e.URL, e.StatusCode)
	case FailureBlocked:
		return fmt.Sprintf("refusing to fetch %s: %v", e.URL, e.Err)
	case FailureRequest:
		return fmt.Sprintf("request error fetching %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("unexpected error fetching %s: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ItemError describes one listing item that could not be turned into a
// Deal. The parser logs it and moves on to the next item.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("listing item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
