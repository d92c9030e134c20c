package handlers

import (
	neturl "net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"scorefetch/internal/acquire"
	"scorefetch/internal/sheetsync"
	u "scorefetch/internal/utils"
)

// ApproveRequest is the JSON body of an approval call from the review UI.
type ApproveRequest struct {
	ScoreURL string `json:"scoreUrl"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Composer string `json:"composer"`
}

// HandleApprove runs acquisition as part of an editor approval. Acquisition
// failure never blocks the approval: the record keeps the original source URL
// and the editor can re-trigger later. The spreadsheet append is
// fire-and-forget through the single-writer queue.
func (svc *AcquireService) HandleApprove(c *fiber.Ctx) error {
	var req ApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	if req.ScoreURL == "" || req.Slug == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing scoreUrl or slug")
	}
	parsed, err := neturl.ParseRequestURI(req.ScoreURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid scoreUrl: must be HTTP or HTTPS")
	}

	finalURL := req.ScoreURL
	republished := false

	if pipe, err := svc.getPipeline(c.Context()); err != nil {
		u.Error("Pipeline init failed, approving with original URL", "slug", req.Slug, "error", err.Error())
	} else if outcome, err := pipe.Run(c.Context(), acquire.Request{SourceURL: req.ScoreURL, Slug: req.Slug}); err != nil {
		_, details := classifyAcquireError(err)
		u.Warn("Acquisition failed, approving with original URL",
			"slug", req.Slug, "stage", details["stage"], "error", err.Error())
	} else {
		finalURL = outcome.URL
		republished = true
	}

	if svc.Sheets != nil {
		svc.Sheets.Enqueue(sheetsync.Row{
			Slug:       req.Slug,
			Title:      req.Title,
			Composer:   req.Composer,
			URL:        finalURL,
			ApprovedAt: time.Now(),
		})
	}

	u.Info("Score approved", "slug", req.Slug, "url", finalURL, "republished", republished)

	return c.JSON(fiber.Map{
		"success":     true,
		"url":         finalURL,
		"republished": republished,
	})
}

// HandleStats exposes pipeline counters for observability.
func (svc *AcquireService) HandleStats(c *fiber.Ctx) error {
	svc.pipeMu.Lock()
	pipe := svc.pipe
	svc.pipeMu.Unlock()

	if pipe == nil {
		// No run has forced pipeline construction yet.
		return c.JSON(acquire.Stats{
			Transport:   svc.Config.Acquire.Transport,
			TimeoutSecs: svc.Config.Acquire.TimeoutSecs,
		})
	}
	return c.JSON(pipe.Stats())
}
