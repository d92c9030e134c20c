// Package sheetsync appends approved score rows to a Google spreadsheet.
// The spreadsheet does not tolerate concurrent structural mutation, so all
// writes funnel through a single worker goroutine.
package sheetsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	u "scorefetch/internal/utils"
)

// Row is one approved score as it appears in the export sheet.
type Row struct {
	Slug       string
	Title      string
	Composer   string
	URL        string
	ApprovedAt time.Time
}

// Appender writes one row to the spreadsheet.
type Appender interface {
	Append(ctx context.Context, row Row) error
}

// SheetsAppender appends rows via the Google Sheets API.
type SheetsAppender struct {
	svc           *sheets.Service
	spreadsheetID string
	appendRange   string
}

// NewSheetsAppender builds an Appender against the configured spreadsheet.
func NewSheetsAppender(ctx context.Context, cfg u.Config) (*SheetsAppender, error) {
	var opts []option.ClientOption
	if cfg.Sheets.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Sheets.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create sheets client: %w", err)
	}
	return &SheetsAppender{
		svc:           svc,
		spreadsheetID: cfg.Sheets.SpreadsheetID,
		appendRange:   cfg.Sheets.AppendRange,
	}, nil
}

// Append adds one row at the bottom of the configured range.
func (a *SheetsAppender) Append(ctx context.Context, row Row) error {
	values := &sheets.ValueRange{
		Values: [][]interface{}{{
			row.Slug,
			row.Title,
			row.Composer,
			row.URL,
			row.ApprovedAt.UTC().Format(time.RFC3339),
		}},
	}
	_, err := a.svc.Spreadsheets.Values.
		Append(a.spreadsheetID, a.appendRange, values).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Queue serializes spreadsheet writes: exactly one Append is in flight at a
// time, in enqueue order. Enqueue never blocks the approval flow.
type Queue struct {
	appender Appender
	jobs     chan Row
	timeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue starts the single writer goroutine.
func NewQueue(appender Appender, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	q := &Queue{
		appender: appender,
		jobs:     make(chan Row, buffer),
		timeout:  30 * time.Second,
		done:     make(chan struct{}),
	}
	go q.worker()
	return q
}

// Enqueue hands a row to the writer. Returns false when the queue is full;
// the row is dropped and the approval proceeds regardless.
func (q *Queue) Enqueue(row Row) bool {
	select {
	case q.jobs <- row:
		return true
	default:
		u.Warn("Sheet sync queue full, dropping row", "slug", row.Slug)
		return false
	}
}

// Close stops accepting rows and waits for the worker to drain the queue.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	<-q.done
}

func (q *Queue) worker() {
	defer close(q.done)
	for row := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.appender.Append(ctx, row)
		cancel()
		if err != nil {
			// Sheet sync is fire-and-forget; the approval already finished.
			u.Error("Sheet append failed", "slug", row.Slug, "error", err)
			continue
		}
		u.Info("Appended approved score to sheet", "slug", row.Slug)
	}
}
