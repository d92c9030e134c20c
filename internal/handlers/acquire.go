package handlers

import (
	"context"
	"errors"
	neturl "net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"scorefetch/internal/acquire"
	"scorefetch/internal/sheetsync"
	u "scorefetch/internal/utils"
)

// Runner is the slice of the pipeline the handlers depend on.
type Runner interface {
	Run(ctx context.Context, req acquire.Request) (*acquire.Outcome, error)
	Stats() acquire.Stats
}

// AcquireRequest is the JSON body of an acquisition call.
type AcquireRequest struct {
	ScoreURL string `json:"scoreUrl"`
	Slug     string `json:"slug"`
}

// AcquireService bundles configuration and dependencies for the acquisition
// endpoints. The pipeline is built lazily so the service can start before AWS
// credentials are resolvable.
type AcquireService struct {
	Config *u.Config
	Redis  *redis.Client
	Sheets *sheetsync.Queue

	pipeMu  sync.Mutex
	pipe    Runner
	pipeErr error
}

// NewAcquireService creates a new AcquireService instance.
func NewAcquireService(cfg u.Config, rdb *redis.Client, sheets *sheetsync.Queue) *AcquireService {
	return &AcquireService{
		Config: &cfg,
		Redis:  rdb,
		Sheets: sheets,
	}
}

// SetRunnerForTest injects a pipeline substitute. Tests only.
func (svc *AcquireService) SetRunnerForTest(r Runner) {
	svc.pipeMu.Lock()
	svc.pipe = r
	svc.pipeMu.Unlock()
}

func (svc *AcquireService) getPipeline(ctx context.Context) (Runner, error) {
	svc.pipeMu.Lock()
	defer svc.pipeMu.Unlock()

	if svc.pipe != nil {
		return svc.pipe, nil
	}
	if svc.pipeErr != nil {
		return nil, svc.pipeErr
	}

	republisher, err := acquire.NewRepublisher(ctx, *svc.Config)
	if err != nil {
		svc.pipeErr = err
		return nil, err
	}
	svc.pipe = acquire.NewPipeline(*svc.Config, republisher, svc.Redis)
	return svc.pipe, nil
}

// HandleAcquire runs one acquisition and returns the republished URL.
func (svc *AcquireService) HandleAcquire(c *fiber.Ctx) error {
	req, err := parseAcquireRequest(c)
	if err != nil {
		return err
	}

	pipe, err := svc.getPipeline(c.Context())
	if err != nil {
		u.Error("Pipeline init failed", "error", err.Error())
		return fiber.NewError(fiber.StatusInternalServerError, "Acquisition pipeline unavailable")
	}

	outcome, err := pipe.Run(c.Context(), acquire.Request{SourceURL: req.ScoreURL, Slug: req.Slug})
	if err != nil {
		status, details := classifyAcquireError(err)
		u.Error("Acquisition failed", "slug", req.Slug, "source", req.ScoreURL,
			"stage", details["stage"], "error", err.Error())
		return c.Status(status).JSON(fiber.Map{
			"error":   "Failed to process PDF",
			"details": details,
		})
	}

	requestID := c.Get("X-Request-ID")
	u.Info("Acquisition succeeded", "slug", req.Slug, "url", outcome.URL,
		"cached", outcome.FromCache, "request_id", requestID)

	return c.JSON(fiber.Map{
		"success": true,
		"url":     outcome.URL,
	})
}

func parseAcquireRequest(c *fiber.Ctx) (*AcquireRequest, error) {
	var req AcquireRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	if req.ScoreURL == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Missing scoreUrl")
	}
	if req.Slug == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Missing slug")
	}
	parsed, err := neturl.ParseRequestURI(req.ScoreURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid scoreUrl: must be HTTP or HTTPS")
	}
	return &req, nil
}

// classifyAcquireError maps pipeline errors to an HTTP status and a
// diagnostic detail object for the JSON failure body.
func classifyAcquireError(err error) (int, fiber.Map) {
	var fetchErr *acquire.FetchError
	var notFound *acquire.NotFoundError
	var dlErr *acquire.DownloadError
	var upErr *acquire.UploadError

	switch {
	case errors.Is(err, acquire.ErrInvalidRequest):
		return fiber.StatusBadRequest, fiber.Map{"stage": "validate", "message": err.Error()}
	case errors.As(err, &fetchErr):
		if fetchErr.Reason == acquire.FetchTimeout {
			return fiber.StatusRequestTimeout, fiber.Map{"stage": "fetch", "reason": string(fetchErr.Reason), "message": err.Error()}
		}
		return fiber.StatusBadGateway, fiber.Map{"stage": "fetch", "reason": string(fetchErr.Reason), "message": err.Error()}
	case errors.As(err, &notFound):
		return fiber.StatusUnprocessableEntity, fiber.Map{"stage": "locate", "message": err.Error()}
	case errors.As(err, &dlErr):
		return fiber.StatusBadGateway, fiber.Map{"stage": "download", "reason": string(dlErr.Reason), "message": err.Error()}
	case errors.As(err, &upErr):
		return fiber.StatusInternalServerError, fiber.Map{"stage": "upload", "message": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout, fiber.Map{"stage": "pipeline", "reason": "timeout", "message": err.Error()}
	default:
		return fiber.StatusInternalServerError, fiber.Map{"stage": "pipeline", "message": err.Error()}
	}
}
