package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	u "scorefetch/internal/utils"
)

func testCfg() u.Config {
	var cfg u.Config
	u.SetConfigForTest(cfg)
	return u.GetConfig()
}

func TestDownload_PDFByContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	payload, err := NewDownloader(testCfg()).Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if payload.ContentType != "application/pdf" {
		t.Fatalf("unexpected content type %q", payload.ContentType)
	}
	if len(payload.Bytes) == 0 {
		t.Fatalf("expected body bytes")
	}
}

func TestDownload_PDFByMagicOnly(t *testing.T) {
	// Some archives serve PDFs as octet-stream.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.7 bytes"))
	}))
	defer srv.Close()

	if _, err := NewDownloader(testCfg()).Download(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected magic sniff to accept payload, got %v", err)
	}
}

func TestDownload_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	_, err := NewDownloader(testCfg()).Download(context.Background(), srv.URL)
	var dl *DownloadError
	if !errors.As(err, &dl) || dl.Reason != DownloadEmptyBody {
		t.Fatalf("expected empty body error, got %v", err)
	}
}

func TestDownload_HTMLBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer srv.Close()

	_, err := NewDownloader(testCfg()).Download(context.Background(), srv.URL)
	var dl *DownloadError
	if !errors.As(err, &dl) || dl.Reason != DownloadNotPDF {
		t.Fatalf("expected non-pdf error, got %v", err)
	}
}

func TestDownload_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewDownloader(testCfg()).Download(context.Background(), srv.URL)
	var dl *DownloadError
	if !errors.As(err, &dl) || dl.Reason != DownloadTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDownload_SendsUserAgentAndCookies(t *testing.T) {
	var gotUA, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	cfg := testCfg()
	cfg.Acquire.Cookies = map[string]string{"session": "abc123"}

	if _, err := NewDownloader(cfg).Download(context.Background(), srv.URL); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if gotUA == "" {
		t.Fatalf("expected user agent header to be sent")
	}
	if gotCookie != "abc123" {
		t.Fatalf("expected session cookie, got %q", gotCookie)
	}
}

func TestValidatePayload_TooLarge(t *testing.T) {
	body := make([]byte, 100)
	copy(body, pdfMagic)
	_, err := ValidatePayload(body, "application/pdf", "https://x/y.pdf", 50)
	var dl *DownloadError
	if !errors.As(err, &dl) || dl.Reason != DownloadTooLarge {
		t.Fatalf("expected too-large error, got %v", err)
	}
}
