package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"logsift/internal/index"
	"logsift/internal/job"
	"logsift/internal/record"
	"logsift/internal/store"
)

// TokensColumn holds the message re-tokenized by the index analyzer, so
// full-text search over an export finds what the server finds.
const TokensColumn = "tokens"

const exportTable = "syslog"

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteStatements() (ddl, dml string) {
	cols := record.Header()
	quoted := make([]string, 0, len(cols)+1)
	marks := make([]string, 0, len(cols)+2)
	marks = append(marks, "?")
	for _, c := range cols {
		quoted = append(quoted, quoteSQLite(c))
		marks = append(marks, "?")
	}
	quoted = append(quoted, TokensColumn)
	marks = append(marks, "?")

	ddl = fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s)", exportTable, strings.Join(quoted, ", "))
	dml = fmt.Sprintf("INSERT INTO %s (rowid, %s) VALUES (%s)",
		exportTable, strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return ddl, dml
}

// exportSQLite writes a standalone SQLite database holding one FTS5 table
// with every catalog field plus the tokens column. Rows are committed in
// chunks of chunk.
func exportSQLite(chunk int) exportFunc {
	return func(ctx context.Context, snap *store.Snapshot, art Artifact, zone *time.Location, report job.Reporter) error {
		db, err := sql.Open("sqlite", art.Path)
		if err != nil {
			return fmt.Errorf("opening export database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		ddl, dml := sqliteStatements()
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating export table: %w", err)
		}

		w := &chunkWriter{db: db, dml: dml, chunk: chunk}
		defer w.rollback()

		ids := snap.Result.IDs
		total := int64(len(ids))
		for i, id := range ids {
			rec, err := snap.Record(ctx, id)
			if err != nil {
				return err
			}
			args := make([]any, 0, len(record.Header())+2)
			args = append(args, id)
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

// chunkWriter inserts through one prepared statement and commits every
// chunk rows.
type chunkWriter struct {
	db    *sql.DB
	dml   string
	chunk int

	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
}

func (w *chunkWriter) insert(ctx context.Context, args ...any) error {
	if w.tx == nil {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning export chunk: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, w.dml)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("preparing export insert: %w", err)
		}
		w.tx, w.stmt = tx, stmt
	}
	if _, err := w.stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("inserting export row: %w", err)
	}
	w.pending++
	if w.pending >= w.chunk {
		return w.commit()
	}
	return nil
}

func (w *chunkWriter) commit() error {
	if w.tx == nil {
		return nil
	}
	w.stmt.Close()
	err := w.tx.Commit()
	w.tx, w.stmt, w.pending = nil, nil, 0
	if err != nil {
		return fmt.Errorf("committing export chunk: %w", err)
	}
	return nil
}

func (w *chunkWriter) rollback() {
	if w.tx == nil {
		return
	}
	w.stmt.Close()
	w.tx.Rollback()
	w.tx, w.stmt = nil, nil
}
