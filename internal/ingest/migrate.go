package ingest

import (
	"context"
	"fmt"

	"logsift/internal/index"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
)

// Source is the store an index is migrated from.
type Source interface {
	Snapshot(ctx context.Context, req store.SearchRequest) (*store.Snapshot, error)
}

// BatchAppender receives migrated records a chunk at a time.
type BatchAppender interface {
	AddBatch(ctx context.Context, recs []record.Record) error
}

// MigrateProgress is called after every committed chunk.
type MigrateProgress func(done, total int64)

// Migrate parses the raw payload of every record in src again and writes
// the results to dst, oldest first, committing every chunk records. The
// arrival timestamp and source address of each record are kept; sort keys
// are assigned afresh in source order.
func Migrate(ctx context.Context, src Source, dst BatchAppender, parser *syslog.Parser, chunk int, progress MigrateProgress, log logger.Logger) (int64, error) {
	if chunk <= 0 {
		chunk = 1000
	}
	snap, err := src.Snapshot(ctx, store.SearchRequest{
		Query: "*:*",
		Sort:  index.Sort{Field: record.SortKey},
	})
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	total := int64(len(snap.Result.IDs))
	log.InfowCtx(ctx, "Migration started", "records", total, "chunk", chunk)

	var (
		seq   record.Sequence
		batch = make([]record.Record, 0, chunk)
		done  int64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := dst.AddBatch(ctx, batch); err != nil {
			return fmt.Errorf("writing records %d-%d: %w", done+1, done+int64(len(batch)), err)
		}
		done += int64(len(batch))
		batch = batch[:0]
		if progress != nil {
			progress(done, total)
		}
		return nil
	}

	for _, id := range snap.Result.IDs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		old, err := snap.Record(ctx, id)
		if err != nil {
			return done, fmt.Errorf("reading record %d: %w", id, err)
		}
		pkt := syslog.RawPacket{
			Addr:       old.Addr,
			Port:       old.Port,
			Data:       []byte(old.Raw),
			ReceivedAt: old.Timestamp,
		}
		batch = append(batch, record.FromMessage(pkt, parser.Parse(pkt), seq.Next(pkt.ReceivedAt)))
		if len(batch) == chunk {
			if err := flush(); err != nil {
				return done, err
			}
		}
	}
	if err := flush(); err != nil {
		return done, err
	}

	log.InfowCtx(ctx, "Migration finished", "records", done)
	return done, nil
}
