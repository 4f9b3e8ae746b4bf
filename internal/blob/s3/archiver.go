package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// archiveBatchSize caps how many positions one archival pass exports.
const archiveBatchSize = 200

// BlobWriter uploads a single object. Satisfied by *Writer.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

var _ BlobWriter = (*Writer)(nil)

// archiveRecord is one JSONL line: a terminal position together with its
// full fill history, self-contained so the database rows can be pruned.
type archiveRecord struct {
	Position domain.Position `json:"position"`
	Fills    []domain.Fill   `json:"fills"`
}

// Archiver exports completed and cancelled positions older than the retention
// window to S3 as JSONL, then prunes them from the database. The upload
// happens before any deletion so a failed pass never loses data; re-running
// after a partial failure re-exports the surviving rows.
type Archiver struct {
	writer    BlobWriter
	positions domain.PositionStore
	fills     domain.FillStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver with the given retention window.
func NewArchiver(writer BlobWriter, positions domain.PositionStore, fills domain.FillStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		fills:     fills,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOnce runs one archival pass and returns the number of positions
// exported and pruned.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-a.retention)

	candidates, err := a.positions.ListCompletedBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archivable positions: %w", err)
	}

	// A terminal position whose profit has not been forwarded yet stays in
	// the database: pruning it would take its fills out of the forwarder's
	// reach and forfeit the payout.
	var positions []domain.Position
	records := make([]archiveRecord, 0, len(candidates))
	for _, p := range candidates {
		fills, err := a.fills.ListByPosition(ctx, p.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: list fills for %s: %w", p.ID, err)
		}
		if owesSettlement(fills) {
			a.logger.WarnContext(ctx, "archival deferred until profit settles",
				slog.String("position_id", p.ID),
			)
			continue
		}
		positions = append(positions, p)
		records = append(records, archiveRecord{Position: p, Fills: fills})
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal archive: %w", err)
	}

	key := archiveKey(time.Now())
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload archive: %w", err)
	}

	a.logger.InfoContext(ctx, "archive uploaded",
		slog.String("key", key),
		slog.Int("positions", len(records)),
	)

	// Prune only after the upload succeeded. A prune failure here leaves the
	// row in place; the next pass re-exports it, which duplicates a line in
	// cold storage but never loses one.
	pruned := 0
	for _, p := range positions {
		if err := a.fills.DeleteByPosition(ctx, p.ID); err != nil {
			return pruned, fmt.Errorf("s3blob: prune fills for %s: %w", p.ID, err)
		}
		if err := a.positions.Delete(ctx, p.ID); err != nil {
			return pruned, fmt.Errorf("s3blob: prune position %s: %w", p.ID, err)
		}
		pruned++
	}

	return pruned, nil
}

// Run executes ArchiveOnce on the given interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archival pass failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archival pass complete", slog.Int("pruned", n))
			}
		}
	}
}

// owesSettlement reports whether any exit fill still awaits its profit
// transfer.
func owesSettlement(fills []domain.Fill) bool {
	for _, f := range fills {
		if f.Kind.IsExit() && f.PnLRealized > 0 && !f.Settled {
			return true
		}
	}
	return false
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(records []archiveRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archiveKey builds the object key for one archival pass, partitioned by
// month with a timestamp suffix so passes never overwrite each other.
//
//	archive/positions/2026-08/20260830T142501Z.jsonl
func archiveKey(now time.Time) string {
	ts := now.UTC()
	return fmt.Sprintf("archive/positions/%s/%s.jsonl", ts.Format("2006-01"), ts.Format("20060102T150405Z"))
}
