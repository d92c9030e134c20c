package acquire

import "fmt"

// Every acquisition failure is terminal for the invocation; the caller decides
// whether to fall back to the original source URL. The error types below map
// one-to-one onto the pipeline stages so handlers can report which stage gave
// up without string matching.

// FetchReason classifies why a source page could not be fetched.
type FetchReason string

const (
	FetchTimeout FetchReason = "timeout"
	FetchNetwork FetchReason = "network"
	FetchStatus  FetchReason = "status"
)

// FetchError reports a failed source-page fetch.
type FetchError struct {
	Reason FetchReason
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Reason == FetchStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError reports that no known pattern matched a PDF link on the page.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no PDF link located on %s", e.URL)
}

// DownloadReason classifies why a located PDF could not be retrieved.
type DownloadReason string

const (
	DownloadEmptyBody DownloadReason = "empty_body"
	DownloadNotPDF    DownloadReason = "non_pdf_content_type"
	DownloadTransport DownloadReason = "transport"
	DownloadTooLarge  DownloadReason = "too_large"
)

// DownloadError reports a failed or rejected PDF download.
type DownloadError struct {
	Reason DownloadReason
	URL    string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("download %s: %s", e.URL, e.Reason)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UploadError reports a failed object-store write.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
