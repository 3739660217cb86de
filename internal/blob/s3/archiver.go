package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultInterval  = 6 * time.Hour
	defaultPageSize  = 1000
)

// ArchiverConfig controls how far back settlement history is kept in the
// primary store and how often the sweep runs.
type ArchiverConfig struct {
	Retention time.Duration
	Interval  time.Duration
	PageSize  int
}

func (c *ArchiverConfig) defaults() {
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
}

// Archiver moves settlement outcomes older than the retention window out of
// the primary store and into object storage as JSONL pages. Each uploaded
// page is read back and its record count checked before the rows are deleted,
// so neither a failed upload nor a corrupt object ever costs history.
type Archiver struct {
	cfg      ArchiverConfig
	writer   domain.BlobWriter
	reader   domain.BlobReader
	outcomes domain.OutcomeStore
	logger   *slog.Logger
}

// NewArchiver creates an Archiver over the given blob access and outcome
// store.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, reader domain.BlobReader, outcomes domain.OutcomeStore, logger *slog.Logger) *Archiver {
	cfg.defaults()
	return &Archiver{
		cfg:      cfg,
		writer:   writer,
		reader:   reader,
		outcomes: outcomes,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.cfg.Retention)
			archived, err := a.ArchiveOutcomes(ctx, cutoff)
			if err != nil {
				a.logger.Error("archive sweep failed",
					slog.String("error", err.Error()),
					slog.Int64("archived", archived))
				continue
			}
			if archived > 0 {
				a.logger.Info("archive sweep complete",
					slog.Int64("archived", archived),
					slog.Time("cutoff", cutoff))
			}
		}
	}
}

// ArchiveOutcomes uploads all outcomes completed before the cutoff and
// deletes them from the store, paging oldest first. Returns the number of
// rows removed.
func (a *Archiver) ArchiveOutcomes(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		page, err := a.outcomes.ListBefore(ctx, cutoff, a.cfg.PageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive outcomes query: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(page)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
		}
		path := archivePath(page[0].CompletedAt)
		if _, err := a.writer.Write(ctx, path, "application/x-ndjson", bytes.NewReader(buf)); err != nil {
			return total, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
		}
		if err := a.verifyPage(ctx, path, len(page)); err != nil {
			return total, fmt.Errorf("s3blob: archive outcomes verify: %w", err)
		}

		// Delete up to and including the newest row in the uploaded page.
		// The nanosecond bump keeps the bound strictly above it while staying
		// at or below the cutoff.
		deleted, err := a.outcomes.DeleteBefore(ctx, page[len(page)-1].CompletedAt.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: archive outcomes delete: %w", err)
		}
		total += deleted

		if len(page) < a.cfg.PageSize {
			return total, nil
		}
	}
}

// verifyPage fetches an uploaded page and confirms it holds the expected
// record count. Rows are only deleted once the object is confirmed readable.
func (a *Archiver) verifyPage(ctx context.Context, path string, want int) error {
	body, err := a.reader.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("read back %s: %w", path, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read back %s: %w", path, err)
	}
	if got := bytes.Count(data, []byte("\n")); got != want {
		return fmt.Errorf("read back %s: %d records, want %d", path, got, want)
	}
	return nil
}

// archivePath partitions archive pages by month with the page's oldest
// completion time as the object name.
//
//	archive/outcomes/2026-08/20260824T101500.000000000.jsonl
func archivePath(oldest time.Time) string {
	t := oldest.UTC()
	return fmt.Sprintf("archive/outcomes/%s/%s.jsonl",
		t.Format("2006-01"), t.Format("20060102T150405.000000000"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
