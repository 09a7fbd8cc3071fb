package fetch

import "fmt"

// Error is a failed page request: transport failure, non-200 status or non-JSON body.
// It aborts the sync cycle.
type Error struct {
	Page        int
	Status      int
	ContentType string
	Snippet     string
	Err         error
}

func (e *Error) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
	}
	msg := fmt.Sprintf("fetch page %d: HTTP %d %s :: %s", e.Page, e.Status, e.ContentType, e.Snippet)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
