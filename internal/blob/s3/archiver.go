package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"coinbot/internal/domain"
)

// Archiver uploads one day's orders and fills as JSONL at the daily reset
// boundary. Records are not deleted from the primary store here; retention is
// a separate, explicit operation run after archives are verified.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	fills  domain.FillStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, fills domain.FillStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		orders: orders,
		fills:  fills,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads the journal for the calendar day containing day. The
// cutoff is the following midnight UTC, so a reset at 00:00 archives
// everything up to that boundary.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	day = day.UTC()
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)

	ordersN, err := a.archiveOrders(ctx, day, cutoff)
	if err != nil {
		return err
	}
	fillsN, err := a.archiveFills(ctx, day, cutoff)
	if err != nil {
		return err
	}

	a.logger.Info("daily journal archived",
		slog.String("day", day.Format("2006-01-02")),
		slog.Int("orders", ordersN),
		slog.Int("fills", fillsN))
	return nil
}

func (a *Archiver) archiveOrders(ctx context.Context, day, cutoff time.Time) (int, error) {
	orders, err := a.orders.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", day)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}
	a.auditLog(ctx, "archive.orders", path, len(orders), cutoff)
	return len(orders), nil
}

func (a *Archiver) archiveFills(ctx context.Context, day, cutoff time.Time) (int, error) {
	fills, err := a.fills.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath("fills", day)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}
	a.auditLog(ctx, "archive.fills", path, len(fills), cutoff)
	return len(fills), nil
}

func (a *Archiver) auditLog(ctx context.Context, event, path string, count int, before time.Time) {
	if a.audit == nil {
		return
	}
	err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.Warn("archive audit log failed", slog.String("error", err.Error()))
	}
}

// archivePath builds the S3 key for a journal file, partitioned by day:
//
//	journal/orders/2026-01-31.jsonl
//	journal/fills/2026-01-31.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("journal/%s/%s.jsonl", kind, day.Format("2006-01-02"))
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
