package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/polycopy/engine/internal/domain"
)

// archiveBatchSize caps how many events one archive object normally
// holds. Large backlogs drain across several objects in a single run; a
// long run of equal timestamps can widen a single object past the cap.
const archiveBatchSize = 5000

// blobPutter is the slice of Writer the archiver needs.
type blobPutter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver moves trade events older than the retention window out of
// Postgres into JSONL objects. Deletion happens only after the upload
// succeeds, so a failed run leaves the rows in place for the next one.
type Archiver struct {
	writer    blobPutter
	events    domain.TradeEventStore
	audit     domain.AuditStore
	retention time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer blobPutter, events domain.TradeEventStore, audit domain.AuditStore,
	retention, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		events:    events,
		audit:     audit,
		retention: retention,
		interval:  interval,
		batchSize: archiveBatchSize,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives on start and then on every interval tick until ctx is
// cancelled. Failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if n, err := a.ArchiveOnce(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("archived trade events", slog.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ArchiveOnce drains all events older than the retention cutoff and
// returns how many were archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)

	var total int64
	for part := 0; ; part++ {
		events, batchEnd, last, err := a.listBatch(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: list events for archive: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}

		key := archiveKey(cutoff, part)
		if err := a.writer.Put(ctx, key, bytes.NewReader(marshalJSONL(events)), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload archive %s: %w", key, err)
		}

		deleted, err := a.events.DeleteBefore(ctx, batchEnd)
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived events: %w", err)
		}
		total += deleted

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.trade_events", map[string]any{
				"key":    key,
				"count":  deleted,
				"cutoff": cutoff.Format(time.RFC3339),
			}); err != nil {
				a.logger.Warn("archive audit log failed", slog.String("error", err.Error()))
			}
		}

		if last {
			return total, nil
		}
	}
}

// listBatch returns the next oldest-first batch of archivable events and
// the exclusive deletion bound covering exactly those events. A full page
// that ends mid-way through a run of equal timestamps is cut before the
// run, or widened until the run fits, so a row is never deleted before
// the object holding it was uploaded. last reports that the batch drains
// everything older than cutoff.
func (a *Archiver) listBatch(ctx context.Context, cutoff time.Time) (events []domain.TradeEvent, batchEnd time.Time, last bool, err error) {
	limit := a.batchSize
	for {
		events, err = a.events.ListBefore(ctx, cutoff, limit)
		if err != nil {
			return nil, time.Time{}, false, err
		}
		if len(events) < limit {
			if len(events) == 0 {
				return nil, time.Time{}, true, nil
			}
			return events, events[len(events)-1].Timestamp.Add(time.Nanosecond), true, nil
		}

		lastTS := events[len(events)-1].Timestamp
		keep := len(events)
		for keep > 0 && events[keep-1].Timestamp.Equal(lastTS) {
			keep--
		}
		if keep > 0 {
			return events[:keep], lastTS, false, nil
		}
		// The whole page shares one timestamp; widen it until the run
		// fits in a single batch.
		limit *= 2
	}
}

// archiveKey names the object by run date and part index:
//
//	archive/trade_events/2025-06-01/part-0000.jsonl
func archiveKey(cutoff time.Time, part int) string {
	return fmt.Sprintf("archive/trade_events/%s/part-%04d.jsonl",
		cutoff.UTC().Format("2006-01-02"), part)
}

// marshalJSONL encodes events as newline-delimited JSON.
func marshalJSONL(events []domain.TradeEvent) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range events {
		// TradeEvent has no unmarshalable fields, Encode cannot fail.
		_ = enc.Encode(e)
	}
	return buf.Bytes()
}
