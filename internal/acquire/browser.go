package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	u "scorefetch/internal/utils"
)

// Browser drives headless Chrome for source pages that only reveal their
// download link after script execution or an interstitial. Every run launches
// its own Chrome process and tears it down on all exit paths; leaking a
// process per failed run adds up fast under repeated failures.
type Browser struct {
	cfg u.Config
}

// NewBrowser returns a Browser configured from the acquire config section.
func NewBrowser(cfg u.Config) *Browser {
	return &Browser{cfg: cfg}
}

// gateDismissJS clicks the first clickable element whose visible text matches
// one of the configured gate phrases. Returns true when something was clicked.
const gateDismissJS = `(function(phrases) {
	var els = document.querySelectorAll('button, a, [role="button"], input[type="submit"]');
	for (var i = 0; i < els.length; i++) {
		var text = (els[i].textContent || els[i].value || '').trim().toLowerCase();
		for (var j = 0; j < phrases.length; j++) {
			if (text.indexOf(phrases[j]) !== -1) {
				els[i].click();
				return true;
			}
		}
	}
	return false;
})(%s)`

// LocatePDF navigates to the source page, dismisses a confirmation
// interstitial if one is present, then polls the rendered DOM for a PDF link
// until a matcher hits or the attempt budget runs out.
func (b *Browser) LocatePDF(ctx context.Context, sourceURL string, locator *Locator) (*Candidate, error) {
	tmpDir, err := os.MkdirTemp(b.cfg.Acquire.UserDataDir, "scorefetch-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create chrome profile dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(tmpDir),
		chromedp.UserAgent(b.cfg.Acquire.UserAgent),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal
		// container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.cfg.Acquire.ChromePath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(b.cfg.Acquire.ChromePath))
	}
	if b.cfg.Acquire.ChromeNoSandbox {
		allocatorOptions = append(allocatorOptions, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(sourceURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		reason := FetchNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			reason = FetchTimeout
		}
		return nil, &FetchError{Reason: reason, URL: sourceURL, Err: err}
	}

	b.dismissGate(browserCtx)

	var finalURL string
	if err := chromedp.Run(browserCtx, chromedp.Location(&finalURL)); err != nil || finalURL == "" {
		finalURL = sourceURL
	}

	// Some archives populate the link only after asynchronous page behavior
	// settles, so we re-read the DOM at a fixed interval.
	attempts := b.cfg.Acquire.DomPollAttempts
	interval := b.cfg.Acquire.DomPollInterval.Std()
	for i := 0; i < attempts; i++ {
		var html string
		if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &FetchError{Reason: FetchTimeout, URL: sourceURL, Err: err}
			}
			return nil, &FetchError{Reason: FetchNetwork, URL: sourceURL, Err: err}
		}

		if cand, err := locator.Locate(html, finalURL); err == nil {
			return cand, nil
		}

		if i < attempts-1 {
			select {
			case <-time.After(interval):
			case <-browserCtx.Done():
				return nil, &FetchError{Reason: FetchTimeout, URL: sourceURL, Err: browserCtx.Err()}
			}
		}
	}

	return nil, &NotFoundError{URL: sourceURL}
}

// dismissGate makes one bounded, best-effort attempt to click a confirmation
// control. Absence of the control is not an error.
func (b *Browser) dismissGate(browserCtx context.Context) {
	wait := time.Duration(b.cfg.Acquire.GateWaitSecs) * time.Second
	gateCtx, cancel := context.WithTimeout(browserCtx, wait)
	defer cancel()

	phrases := make([]string, 0, len(b.cfg.Acquire.GateTexts))
	for _, t := range b.cfg.Acquire.GateTexts {
		phrases = append(phrases, strings.ToLower(t))
	}

	js := fmt.Sprintf(gateDismissJS, jsStringArray(phrases))

	var clicked bool
	if err := chromedp.Run(gateCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		u.Debug("Gate dismissal skipped", "error", err.Error())
		return
	}
	if clicked {
		u.Info("Dismissed confirmation interstitial")
		// Give the page a moment to reveal the real link.
		_ = chromedp.Run(gateCtx, chromedp.Sleep(500*time.Millisecond))
	}
}

func jsStringArray(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
