package main

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/internal/metrics"
	"github.com/route-beacon/bgpspeaker/rib"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS rib_snapshots (
	id BIGSERIAL PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	afi SMALLINT NOT NULL,
	prefix_count INTEGER NOT NULL,
	payload BYTEA NOT NULL
);`

// snapshotRow is the per-prefix JSON shape written into the compressed
// payload column; this is an export for offline analysis, never read
// back by the daemon itself.
type snapshotRow struct {
	Prefix  string `json:"prefix"`
	SrcID   string `json:"src_id"`
	NextHop string `json:"next_hop"`
	Weight  int    `json:"weight"`
}

// snapshotWriter periodically exports the current best-path set per
// AFI to Postgres, zstd-compressed, the way the teacher's history
// pipeline exports raw BMP payloads for offline analysis.
type snapshotWriter struct {
	pool    *pgxpool.Pool
	encoder *zstd.Encoder
	logger  *zap.Logger
}

func newSnapshotWriter(pool *pgxpool.Pool, logger *zap.Logger) (*snapshotWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &snapshotWriter{pool: pool, encoder: enc, logger: logger}, nil
}

func (w *snapshotWriter) ensureSchema(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, createSnapshotTable)
	return err
}

func (w *snapshotWriter) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

func (w *snapshotWriter) run(ctx context.Context, interval time.Duration, rib4 *rib.Table4, rib6 *rib.Table6) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.write(ctx, rib4, rib6); err != nil {
				w.logger.Error("snapshot write failed", zap.Error(err))
			}
		}
	}
}

func (w *snapshotWriter) write(ctx context.Context, rib4 *rib.Table4, rib6 *rib.Table6) error {
	start := time.Now()

	var rows4 []snapshotRow
	rib4.Walk(func(p bgp.Prefix4, e *rib.Entry4) {
		rows4 = append(rows4, snapshotRow{
			Prefix:  p.String(),
			SrcID:   net.IP(e.SrcID[:]).String(),
			NextHop: net.IP(e.NextHop[:]).String(),
			Weight:  e.Weight,
		})
	})
	if err := w.writeAFI(ctx, 1, rows4); err != nil {
		return err
	}

	var rows6 []snapshotRow
	rib6.Walk(func(p bgp.Prefix6, e *rib.Entry6) {
		rows6 = append(rows6, snapshotRow{
			Prefix:  p.String(),
			SrcID:   net.IP(e.SrcID[:]).String(),
			NextHop: net.IP(e.NextHop[:]).String(),
			Weight:  e.Weight,
		})
	})
	if err := w.writeAFI(ctx, 2, rows6); err != nil {
		return err
	}

	metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotRowsTotal.Add(float64(len(rows4) + len(rows6)))
	return nil
}

func (w *snapshotWriter) writeAFI(ctx context.Context, afi int16, rows []snapshotRow) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	compressed := w.encoder.EncodeAll(payload, nil)
	_, err = w.pool.Exec(ctx,
		`INSERT INTO rib_snapshots (afi, prefix_count, payload) VALUES ($1, $2, $3)`,
		afi, len(rows), compressed)
	return err
}
