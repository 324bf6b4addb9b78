package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"logsift/internal/constants"
	"logsift/internal/index"
	"logsift/internal/job"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/pkg/metrics"
	"logsift/pkg/retry"
)

// PostgresTarget receives relational exports. Every export shares one table
// and is told apart by its export_id column.
type PostgresTarget struct {
	db     *sql.DB
	table  string
	policy retry.Policy
}

func NewPostgresTarget(db *sql.DB, table string) *PostgresTarget {
	return &PostgresTarget{db: db, table: table, policy: retry.DefaultPolicy()}
}

func (t *PostgresTarget) statements() (ddl []string, dml string) {
	table := pq.QuoteIdentifier(t.table)
	cols := record.Header()

	defs := make([]string, 0, len(cols)+3)
	names := make([]string, 0, len(cols)+3)
	marks := make([]string, 0, len(cols)+3)
	defs = append(defs, "export_id TEXT NOT NULL", "record_id BIGINT NOT NULL")
	names = append(names, "export_id", "record_id")
	marks = append(marks, "$1", "$2")
	for i, c := range cols {
		defs = append(defs, pq.QuoteIdentifier(c)+" TEXT")
		names = append(names, pq.QuoteIdentifier(c))
		marks = append(marks, fmt.Sprintf("$%d", i+3))
	}
	defs = append(defs, TokensColumn+" TSVECTOR")
	names = append(names, TokensColumn)
	marks = append(marks, fmt.Sprintf("to_tsvector('simple', $%d)", len(cols)+3))

	ddl = []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (export_id, record_id))",
			table, strings.Join(defs, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (%s)",
			pq.QuoteIdentifier(t.table+"_tokens_idx"), table, TokensColumn),
	}
	dml = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", "))
	return ddl, dml
}

// Ping reports whether the database is reachable.
func (t *PostgresTarget) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// createTable runs the DDL, retrying because concurrent CREATE ... IF NOT
// EXISTS statements can still collide on the catalog.
func (t *PostgresTarget) createTable(ctx context.Context, ddl []string) error {
	return retry.Retry(ctx, t.policy, func() error {
		for _, stmt := range ddl {
			if _, err := t.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// export writes the snapshot rows tagged with exportID. Each chunk is
// committed on its own.
func (t *PostgresTarget) export(exportID string, chunk int) exportFunc {
	return func(ctx context.Context, snap *store.Snapshot, _ Artifact, zone *time.Location, report job.Reporter) (err error) {
		start := time.Now()
		defer func() {
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.IncDatabaseQuery(constants.ServiceName, "postgres", "export", status)
			metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "postgres", "export", time.Since(start))
		}()

		ddl, dml := t.statements()
		if err := t.createTable(ctx, ddl); err != nil {
			return fmt.Errorf("creating export table: %w", err)
		}

		w := &chunkWriter{db: t.db, dml: dml, chunk: chunk}
		defer w.rollback()

		ids := snap.Result.IDs
		total := int64(len(ids))
		for i, id := range ids {
			rec, err := snap.Record(ctx, id)
			if err != nil {
				return err
			}
			args := make([]any, 0, len(record.Header())+3)
			args = append(args, exportID, id)
			for _, cell := range rec.Row(zone) {
				args = append(args, cell)
			}
			args = append(args, index.AnalyzeJoined(rec.Message))
			if err := w.insert(ctx, args...); err != nil {
				return err
			}
			report(total, int64(i+1))
		}
		return w.commit()
	}
}
