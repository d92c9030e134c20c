package acquire

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	u "scorefetch/internal/utils"
)

// Request is one acquisition: the page believed to contain or link to a PDF,
// and the slug used to name the republished file.
type Request struct {
	SourceURL string
	Slug      string
}

// Outcome is the result of a successful acquisition.
type Outcome struct {
	URL       string
	Pattern   string // which matcher found the link; empty for direct PDFs
	Direct    bool   // the source URL served the PDF itself
	FromCache bool
}

// Stats is a snapshot of pipeline counters for the stats endpoint.
type Stats struct {
	Transport   string `json:"transport"`
	TimeoutSecs int    `json:"timeout_secs"`
	Runs        int64  `json:"runs"`
	Succeeded   int64  `json:"succeeded"`
	Failed      int64  `json:"failed"`
	CacheHits   int64  `json:"cache_hits"`
}

var slugRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ErrInvalidRequest is returned when the request violates basic invariants
// before any I/O happens.
var ErrInvalidRequest = errors.New("invalid acquisition request")

// Pipeline sequences fetch, locate, download and republish under one
// end-to-end timeout budget. Each run is strictly sequential with no internal
// retries; a failure is terminal and the caller owns any fallback decision.
type Pipeline struct {
	cfg         u.Config
	fetcher     Fetcher
	locator     *Locator
	browser     *Browser // nil when transport is "http"
	downloader  *Downloader
	republisher *Republisher
	redis       *redis.Client

	runs      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
}

// NewPipeline assembles a Pipeline from config. The browser transport is only
// constructed when configured, so plain-HTTP deployments never touch Chrome.
func NewPipeline(cfg u.Config, republisher *Republisher, rdb *redis.Client) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		fetcher:     NewHTTPFetcher(cfg),
		locator:     NewLocator(),
		downloader:  NewDownloader(cfg),
		republisher: republisher,
		redis:       rdb,
	}
	if cfg.Acquire.Transport == "browser" {
		p.browser = NewBrowser(cfg)
	}
	return p
}

// SetFetcherForTest swaps the page fetcher. Tests only.
func (p *Pipeline) SetFetcherForTest(f Fetcher) { p.fetcher = f }

// Run executes one acquisition to completion and returns the public URL of
// the republished PDF or a typed error. All browser resources are released
// before Run returns, on every exit path.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.SourceURL == "" || req.Slug == "" {
		return nil, fmt.Errorf("%w: source url and slug must be non-empty", ErrInvalidRequest)
	}
	if !slugRe.MatchString(req.Slug) {
		return nil, fmt.Errorf("%w: slug contains invalid characters", ErrInvalidRequest)
	}

	p.runs.Add(1)

	if cached := p.cachedResult(ctx, req); cached != "" {
		p.cacheHits.Add(1)
		p.succeeded.Add(1)
		return &Outcome{URL: cached, FromCache: true}, nil
	}

	budget := time.Duration(p.cfg.Acquire.TimeoutSecs) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	outcome, err := p.run(runCtx, req)
	if err != nil {
		p.failed.Add(1)
		return nil, err
	}

	p.succeeded.Add(1)
	p.storeResult(ctx, req, outcome.URL)
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Outcome, error) {
	payload, pattern, direct, err := p.acquire(ctx, req)
	if err != nil {
		return nil, err
	}

	publicURL, err := p.republisher.Publish(ctx, req.Slug, payload)
	if err != nil {
		return nil, err
	}

	u.Info("Republished score PDF",
		"slug", req.Slug, "url", publicURL, "pattern", pattern, "direct", direct,
		"bytes", len(payload.Bytes))
	return &Outcome{URL: publicURL, Pattern: pattern, Direct: direct}, nil
}

// acquire runs the heuristic cascade: direct content-type sniff, then static
// link scraping, then (when configured) a full browser session with gate
// dismissal and DOM polling.
func (p *Pipeline) acquire(ctx context.Context, req Request) (*PDFPayload, string, bool, error) {
	res, fetchErr := p.fetcher.Fetch(ctx, req.SourceURL)
	if fetchErr == nil && res.IsPDF() {
		payload, err := ValidatePayload(res.Body, res.ContentType, res.FinalURL, p.cfg.Limits.MaxPDFBytes)
		if err != nil {
			return nil, "", true, err
		}
		return payload, "", true, nil
	}

	var cand *Candidate
	if fetchErr == nil {
		html := res.Body
		// Cap the scanned markup; anything past the limit is unlikely to hold
		// the download link and only slows the matchers down.
		if max := p.cfg.Limits.MaxHTMLBytes; max > 0 && len(html) > max {
			html = html[:max]
		}
		cand, _ = p.locator.Locate(string(html), res.FinalURL)
	}

	if cand == nil && p.browser != nil {
		var err error
		cand, err = p.browser.LocatePDF(ctx, req.SourceURL, p.locator)
		if err != nil {
			return nil, "", false, err
		}
	}

	if cand == nil {
		if fetchErr != nil {
			return nil, "", false, fetchErr
		}
		return nil, "", false, &NotFoundError{URL: req.SourceURL}
	}

	payload, err := p.downloader.Download(ctx, cand.URL)
	if err != nil {
		return nil, "", false, err
	}
	return payload, cand.Pattern, false, nil
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Transport:   p.cfg.Acquire.Transport,
		TimeoutSecs: p.cfg.Acquire.TimeoutSecs,
		Runs:        p.runs.Load(),
		Succeeded:   p.succeeded.Load(),
		Failed:      p.failed.Load(),
		CacheHits:   p.cacheHits.Load(),
	}
}

func resultCacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.SourceURL))
	h.Write([]byte{0})
	h.Write([]byte(req.Slug))
	return "acquire:" + hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) cachedResult(ctx context.Context, req Request) string {
	if p.redis == nil || !p.cfg.Cache.ResultCacheEnabled {
		return ""
	}
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	val, err := p.redis.Get(rctx, resultCacheKey(req)).Result()
	if err == redis.Nil {
		return ""
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return ""
	}
	return val
}

func (p *Pipeline) storeResult(ctx context.Context, req Request, publicURL string) {
	if p.redis == nil || !p.cfg.Cache.ResultCacheEnabled {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.redis.Set(rctx, resultCacheKey(req), publicURL, p.cfg.Cache.ResultCacheTTL.Std()).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
