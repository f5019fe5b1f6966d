package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

// multipartThreshold switches large archive files to the multipart
// uploader.
const multipartThreshold = 8 * 1024 * 1024

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobChecker verifies that an upload landed.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver serializes terminal market snapshots and the transition event
// history to JSONL and uploads them to cold storage on a retention
// schedule.
//
// Deletion from the primary store is deliberately not performed; the
// archive is a copy, not a migration.
type Archiver struct {
	writer    BlobWriter
	checker   BlobChecker
	markets   domain.MarketProjectionStore
	events    domain.TransitionEventStore
	retention time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. Records older than retention are
// archived on each run.
func NewArchiver(
	writer BlobWriter,
	checker BlobChecker,
	markets domain.MarketProjectionStore,
	events domain.TransitionEventStore,
	retention time.Duration,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		checker:   checker,
		markets:   markets,
		events:    events,
		retention: retention,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes the archiver on a fixed interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.retention)
			if err := a.ArchiveAll(ctx, cutoff); err != nil {
				a.metrics.ArchiveRuns.WithLabelValues("error").Inc()
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				continue
			}
			a.metrics.ArchiveRuns.WithLabelValues("ok").Inc()
		}
	}
}

// ArchiveAll archives both the resolved-market snapshots and the
// transition history older than the cutoff.
func (a *Archiver) ArchiveAll(ctx context.Context, cutoff time.Time) error {
	markets, err := a.ArchiveResolvedMarkets(ctx, cutoff)
	if err != nil {
		return err
	}
	events, err := a.ArchiveTransitions(ctx, cutoff)
	if err != nil {
		return err
	}
	if markets > 0 || events > 0 {
		a.logger.Info("archive run complete",
			slog.Int64("markets", markets),
			slog.Int64("events", events),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

// ArchiveResolvedMarkets uploads a JSONL snapshot of every terminal market
// whose last sync is older than the cutoff. It returns the number of
// archived records.
func (a *Archiver) ArchiveResolvedMarkets(ctx context.Context, cutoff time.Time) (int64, error) {
	records, err := a.markets.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}
	path := archivePath("markets", cutoff)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets: %w", err)
	}
	return int64(len(records)), nil
}

// ArchiveTransitions uploads the transition event history older than the
// cutoff and returns the number of archived events.
func (a *Archiver) ArchiveTransitions(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transitions query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transitions marshal: %w", err)
	}
	path := archivePath("transitions", cutoff)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive transitions: %w", err)
	}
	a.metrics.ArchivedEvents.Add(float64(len(events)))
	return int64(len(events)), nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return err
	}

	if a.checker != nil {
		ok, checkErr := a.checker.Exists(ctx, path)
		if checkErr != nil {
			a.logger.WarnContext(ctx, "archive verification failed",
				slog.String("path", path),
				slog.String("error", checkErr.Error()),
			)
		} else if !ok {
			return fmt.Errorf("s3blob: uploaded object %s not visible", path)
		}
	}
	return nil
}

// archivePath partitions archive files by the year-month of the cutoff:
//
//	archive/markets/2026-08.jsonl
//	archive/transitions/2026-08.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// line per record.
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
