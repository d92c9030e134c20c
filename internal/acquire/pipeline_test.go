package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	u "scorefetch/internal/utils"
)

func pipelineCfg() u.Config {
	var cfg u.Config
	cfg.Acquire.TimeoutSecs = 5
	cfg.Storage.UploadTimeoutSecs = 1
	u.SetConfigForTest(cfg)
	return u.GetConfig()
}

func newTestPipeline(cfg u.Config, putter ObjectPutter, rdb *redis.Client) *Pipeline {
	return NewPipeline(cfg, NewRepublisherWithClient(putter, cfg), rdb)
}

func TestRun_EndToEndAnchorPage(t *testing.T) {
	pdfSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 score"))
	}))
	defer pdfSrv.Close()

	pageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><a href="%s/piece123.pdf">Download</a></body></html>`, pdfSrv.URL)
	}))
	defer pageSrv.Close()

	putter := &fakePutter{}
	p := newTestPipeline(pipelineCfg(), putter, nil)

	outcome, err := p.Run(context.Background(), Request{SourceURL: pageSrv.URL, Slug: "bach-bwv846"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := "https://tonebase-emails.s3.us-east-1.amazonaws.com/Q2_2021/Q2W4/Scores/general/bach-bwv846.pdf"
	if outcome.URL != want {
		t.Fatalf("unexpected url:\n got %q\nwant %q", outcome.URL, want)
	}
	if outcome.Direct {
		t.Fatalf("expected locator path, not direct")
	}
	if outcome.Pattern != "anchor_href" {
		t.Fatalf("unexpected pattern %q", outcome.Pattern)
	}
	if putter.calls != 1 {
		t.Fatalf("expected one upload, got %d", putter.calls)
	}
}

func TestRun_DirectPDFSkipsLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 direct"))
	}))
	defer srv.Close()

	putter := &fakePutter{}
	p := newTestPipeline(pipelineCfg(), putter, nil)

	outcome, err := p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "direct-pdf"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !outcome.Direct {
		t.Fatalf("expected direct pdf path")
	}
	if outcome.Pattern != "" {
		t.Fatalf("expected no pattern for direct pdf, got %q", outcome.Pattern)
	}
}

func TestRun_SourceNotFoundFailsWithoutUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	putter := &fakePutter{}
	p := newTestPipeline(pipelineCfg(), putter, nil)

	_, err := p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "missing"})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Reason != FetchStatus {
		t.Fatalf("expected status fetch error, got %v", err)
	}
	if putter.calls != 0 {
		t.Fatalf("republisher must not be called on fetch failure")
	}
}

func TestRun_EmptyDownloadNeverReachesRepublisher(t *testing.T) {
	pdfSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		// claimed success, empty body
	}))
	defer pdfSrv.Close()

	pageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<a href="%s/empty.pdf">dl</a>`, pdfSrv.URL)
	}))
	defer pageSrv.Close()

	putter := &fakePutter{}
	p := newTestPipeline(pipelineCfg(), putter, nil)

	_, err := p.Run(context.Background(), Request{SourceURL: pageSrv.URL, Slug: "empty-doc"})
	var dl *DownloadError
	if !errors.As(err, &dl) || dl.Reason != DownloadEmptyBody {
		t.Fatalf("expected empty body download error, got %v", err)
	}
	if putter.calls != 0 {
		t.Fatalf("republisher must not be called on download failure")
	}
}

func TestRun_NoPatternMatchReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>nothing to see</body></html>"))
	}))
	defer srv.Close()

	p := newTestPipeline(pipelineCfg(), &fakePutter{}, nil)

	_, err := p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "no-link"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRun_RequestValidation(t *testing.T) {
	p := newTestPipeline(pipelineCfg(), &fakePutter{}, nil)

	cases := []Request{
		{SourceURL: "", Slug: "x"},
		{SourceURL: "https://host/p", Slug: ""},
		{SourceURL: "https://host/p", Slug: "bad slug/with spaces"},
	}
	for _, req := range cases {
		if _, err := p.Run(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected invalid request error for %+v, got %v", req, err)
		}
	}
}

func TestRun_TimeoutBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	cfg := pipelineCfg()
	cfg.Acquire.TimeoutSecs = 1

	p := newTestPipeline(cfg, &fakePutter{}, nil)

	start := time.Now()
	_, err := p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "slow"})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Reason != FetchTimeout {
		t.Fatalf("expected timeout fetch error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2500*time.Millisecond {
		t.Fatalf("run exceeded timeout budget: %v", elapsed)
	}
}

func TestRun_ResultCacheAvoidsRescrape(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 cached"))
	}))
	defer srv.Close()

	cfg := pipelineCfg()
	cfg.Cache.ResultCacheEnabled = true
	cfg.Cache.ResultCacheTTL = u.Duration(time.Minute)

	p := newTestPipeline(cfg, &fakePutter{}, rdb)
	req := Request{SourceURL: srv.URL, Slug: "cached-slug"}

	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !second.FromCache {
		t.Fatalf("expected second run to hit the result cache")
	}
	if first.URL != second.URL {
		t.Fatalf("cached url mismatch: %q vs %q", first.URL, second.URL)
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", fetches.Load())
	}
	if p.Stats().CacheHits != 1 {
		t.Fatalf("expected one cache hit in stats")
	}
}

func TestStats_Counters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := newTestPipeline(pipelineCfg(), &fakePutter{}, nil)
	_, _ = p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "fail-1"})
	_, _ = p.Run(context.Background(), Request{SourceURL: srv.URL, Slug: "fail-2"})

	st := p.Stats()
	if st.Runs != 2 || st.Failed != 2 || st.Succeeded != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Transport != "http" {
		t.Fatalf("unexpected transport %q", st.Transport)
	}
}
