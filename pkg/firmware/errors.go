package firmware

import "fmt"

// NotFoundError indicates a local image path was missing or unreadable
// at the start of a run.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("firmware image not found: %s: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// FetchError indicates a remote image could not be materialized:
// transport failure, non-success status, or an empty body. The pipeline
// terminates as Failed without touching the device.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s failed: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InvalidImageError indicates a materialized file is not a flashable
// ESP image.
type InvalidImageError struct {
	Path   string
	Reason string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid firmware image %s: %s", e.Path, e.Reason)
}
