package acquire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	u "scorefetch/internal/utils"
)

var pdfMagic = []byte("%PDF-")

// FetchResult is the outcome of fetching a source page: the body, the declared
// content type and the URL after redirects.
type FetchResult struct {
	FinalURL    string
	ContentType string
	Body        []byte
}

// IsPDF reports whether the response is already a PDF, either by declared
// content type or by the %PDF- magic at the start of the body.
func (r *FetchResult) IsPDF() bool {
	if strings.Contains(strings.ToLower(r.ContentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(r.Body, pdfMagic)
}

// Fetcher retrieves a source page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// HTTPFetcher fetches source pages with a plain HTTP client. The user agent
// is always set; some archives reject requests without one.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	cookies   map[string]string
	maxBytes  int
}

// NewHTTPFetcher builds an HTTPFetcher from the acquire config section.
func NewHTTPFetcher(cfg u.Config) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: time.Duration(cfg.Acquire.TimeoutSecs) * time.Second},
		userAgent: cfg.Acquire.UserAgent,
		cookies:   cfg.Acquire.Cookies,
		maxBytes:  cfg.Limits.MaxPDFBytes,
	}
}

// Fetch performs a GET against the source URL, following redirects, and reads
// the full body into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Reason: FetchNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,*/*")
	for name, value := range f.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Reason: classifyTransportErr(ctx, err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Reason: FetchStatus, URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)+1))
	if err != nil {
		return nil, &FetchError{Reason: classifyTransportErr(ctx, err), URL: url, Err: err}
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResult{
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func classifyTransportErr(ctx context.Context, err error) FetchReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FetchTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return FetchTimeout
	}
	return FetchNetwork
}
