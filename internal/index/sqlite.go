package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"logsift/internal/record"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	insertRecord = `INSERT INTO records
		(sort, timestamp, host, addr, port, facility, severity, format, message, raw,
		 logged, app, procid, msgid, structured)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertTokens = `INSERT INTO records_fts (rowid, host, message, raw) VALUES (?, ?, ?, ?)`
)

// columns lists the stored columns in insert and select order.
var columns = []record.Field{
	record.SortKey, record.Timestamp, record.Host, record.Addr, record.Port,
	record.Facility, record.Severity, record.Format, record.Message, record.Raw,
	record.Logged, record.App, record.ProcID, record.MsgID, record.StructData,
}

// SQLiteEngine stores records in a SQLite database with an FTS5 table over
// the text fields. The database runs in WAL mode so readers keep a stable
// snapshot while the single writer appends.
type SQLiteEngine struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSQLite opens or creates the index at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteEngine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteEngine{db: db, path: path}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (e *SQLiteEngine) Path() string {
	return e.path
}

// Ping checks that the database answers.
func (e *SQLiteEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

func (e *SQLiteEngine) Add(ctx context.Context, doc record.Document) error {
	return e.AddBatch(ctx, []record.Document{doc})
}

// AddBatch writes docs in one transaction.
func (e *SQLiteEngine) AddBatch(ctx context.Context, docs []record.Document) error {
	if len(docs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index write: %w", err)
	}
	defer tx.Rollback()

	recStmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer recStmt.Close()

	tokStmt, err := tx.PrepareContext(ctx, insertTokens)
	if err != nil {
		return fmt.Errorf("prepare token insert: %w", err)
	}
	defer tokStmt.Close()

	for _, doc := range docs {
		args := make([]interface{}, len(columns))
		for i, f := range columns {
			if f.Kind() == record.KindNumeric {
				args[i] = doc.Num(f)
			} else {
				args[i] = doc.Str(f)
			}
		}

		res, err := recStmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		if _, err := tokStmt.ExecContext(ctx, id,
			AnalyzeJoined(doc.Str(record.Host)),
			AnalyzeJoined(doc.Str(record.Message)),
			AnalyzeJoined(doc.Str(record.Raw)),
		); err != nil {
			return fmt.Errorf("insert tokens: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index write: %w", err)
	}
	return nil
}

// OpenReader pins a snapshot of the index. It returns ErrIndexNotFound
// while the index holds no records.
func (e *SQLiteEngine) OpenReader(ctx context.Context) (Reader, error) {
	tx, err := e.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}

	// The first read fixes the WAL snapshot for the rest of the transaction.
	var count int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	if count == 0 {
		tx.Rollback()
		return nil, ErrIndexNotFound
	}

	return &sqliteReader{tx: tx}, nil
}
