package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades with a timestamp strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// PositionArchiveStore provides read access to closed positions.
type PositionArchiveStore interface {
	// ListClosedBefore returns positions closed strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// Alerter announces completed archive runs.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by querying the ledger stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Archived rows are not deleted from the primary store.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
	alerts    Alerter
	prefix    string
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. audit and alerts may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	positions PositionArchiveStore,
	audit domain.AuditStore,
	alerts Alerter,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		trades:    trades,
		positions: positions,
		audit:     audit,
		alerts:    alerts,
		prefix:    "archive",
		logger:    logger,
	}
}

// ArchiveTrades uploads every trade before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the number of records written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, "trades", before, trades)
}

// ArchiveClosedPositions uploads every position closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the number of records written.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return upload(ctx, a, "positions", before, positions)
}

// Run archives both record kinds and reports a single summary.
func (a *ArchiveImpl) Run(ctx context.Context, before time.Time) error {
	trades, err := a.ArchiveTrades(ctx, before)
	if err != nil {
		return err
	}
	positions, err := a.ArchiveClosedPositions(ctx, before)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive: run complete",
		slog.Int64("trades", trades),
		slog.Int64("positions", positions),
		slog.Time("before", before),
	)
	if a.alerts != nil && trades+positions > 0 {
		msg := fmt.Sprintf("Archived %d trades and %d closed positions before %s",
			trades, positions, before.Format("2006-01-02"))
		if err := a.alerts.Notify(ctx, "archive", "Ledger archive", msg); err != nil {
			a.logger.WarnContext(ctx, "archive: notify failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(a.prefix, kind, before)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/positions/2025-01.jsonl
func archivePath(prefix, kind string, before time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, kind, before.UTC().Format("2006-01"))
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
