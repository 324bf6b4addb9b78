package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"logsift/internal/job"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
	apperrors "logsift/pkg/errors"
	"logsift/pkg/logging"
	"logsift/pkg/metrics"
)

const DefaultChunkSize = 1000

// RecordStore is the part of the store bulk jobs read and write.
type RecordStore interface {
	Snapshot(ctx context.Context, req store.SearchRequest) (*store.Snapshot, error)
	AddBatch(ctx context.Context, recs []record.Record) error
}

// Parser rebuilds the message of a stored raw packet.
type Parser interface {
	Parse(pkt syslog.RawPacket) syslog.Message
}

// Sink receives every job event. Publish must not block for long; it runs
// on the job's goroutines.
type Sink interface {
	Publish(ctx context.Context, p Payload)
}

type SinkFunc func(ctx context.Context, p Payload)

func (f SinkFunc) Publish(ctx context.Context, p Payload) { f(ctx, p) }

// Upload is one uploaded TSV file, plain or gzip compressed.
type Upload struct {
	Name string
	Body io.Reader
}

type Options struct {
	WorkDir          string
	ChunkSize        int
	ProgressInterval time.Duration
	// Postgres is nil when relational export to PostgreSQL is disabled.
	Postgres *PostgresTarget
}

type exportFunc func(ctx context.Context, snap *store.Snapshot, art Artifact, zone *time.Location, report job.Reporter) error

// Orchestrator runs exports and imports as registered background jobs.
type Orchestrator struct {
	store    RecordStore
	parser   Parser
	registry *Registry
	workDir  string
	chunk    int
	interval time.Duration
	postgres *PostgresTarget
	logger   logger.Logger

	mu    sync.RWMutex
	sinks []Sink
}

func New(st RecordStore, parser Parser, opts Options, log logger.Logger) (*Orchestrator, error) {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = job.DefaultInterval
	}
	return &Orchestrator{
		store:    st,
		parser:   parser,
		registry: NewRegistry(),
		workDir:  opts.WorkDir,
		chunk:    opts.ChunkSize,
		interval: opts.ProgressInterval,
		postgres: opts.Postgres,
		logger:   log,
	}, nil
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

func (o *Orchestrator) AddSink(s Sink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, s)
}

func (o *Orchestrator) publish(ctx context.Context, p Payload) {
	o.mu.RLock()
	sinks := make([]Sink, len(o.sinks))
	copy(sinks, o.sinks)
	o.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ctx, p)
	}
}

func (o *Orchestrator) ExportTSV(ctx context.Context, query string, zone *time.Location) (*Entry, error) {
	return o.export(ctx, FormatTSV, query, zone, func(string) exportFunc { return exportTSV })
}

func (o *Orchestrator) ExportSQLite(ctx context.Context, query string, zone *time.Location) (*Entry, error) {
	return o.export(ctx, FormatSQLite, query, zone, func(string) exportFunc { return exportSQLite(o.chunk) })
}

// ExportPostgres fails with ErrServiceUnavailable when no PostgreSQL
// target is configured.
func (o *Orchestrator) ExportPostgres(ctx context.Context, query string, zone *time.Location) (*Entry, error) {
	if o.postgres == nil {
		return nil, apperrors.ErrServiceUnavailable.WithMessage("postgres export is not configured")
	}
	return o.export(ctx, FormatPostgres, query, zone, func(id string) exportFunc {
		return o.postgres.export(id, o.chunk)
	})
}

// export fixes the matching ids on a snapshot now; the job converts exactly
// those records even if more arrive while it runs.
func (o *Orchestrator) export(ctx context.Context, format Format, query string, zone *time.Location, build func(id string) exportFunc) (*Entry, error) {
	zone = zoneOrLocal(zone)
	snap, err := o.store.Snapshot(ctx, store.SearchRequest{Query: query, Zone: zone})
	if err != nil {
		return nil, err
	}

	var art Artifact
	if ext := format.Ext(); ext != "" {
		path, err := o.createArtifact("logsift_export_*." + ext)
		if err != nil {
			snap.Close()
			return nil, err
		}
		art.Path = path
	}

	var id string
	task := func(ctx context.Context, art Artifact, report job.Reporter) error {
		defer snap.Close()
		return build(id)(ctx, snap, art, zone, report)
	}
	e := o.newEntry(KindExport, format, zone, art, task)
	id = e.ID()
	o.start(ctx, e)
	return e, nil
}

func (o *Orchestrator) createArtifact(pattern string) (string, error) {
	f, err := os.CreateTemp(o.workDir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	f.Close()
	return f.Name(), nil
}

// ImportTSV stages every upload before starting one job per file. A job
// commits its rows chunk by chunk; when it fails, the chunks committed
// before the failure stay in the index.
func (o *Orchestrator) ImportTSV(ctx context.Context, uploads []Upload, chunk int, zone *time.Location) ([]*Entry, error) {
	if len(uploads) == 0 {
		return nil, apperrors.ErrValidation.WithMessage("no files uploaded")
	}
	if chunk <= 0 {
		chunk = o.chunk
	}
	zone = zoneOrLocal(zone)

	type staged struct {
		path  string
		lines int64
	}
	files := make([]staged, 0, len(uploads))
	for _, u := range uploads {
		path, lines, err := stage(o.workDir, u.Body)
		if err != nil {
			for _, s := range files {
				os.Remove(s.path)
			}
			return nil, fmt.Errorf("staging %s: %w", u.Name, err)
		}
		o.logger.InfowCtx(ctx, "Staged upload", "name", u.Name, "lines", lines, "path", path)
		files = append(files, staged{path: path, lines: lines})
	}

	entries := make([]*Entry, 0, len(files))
	for _, s := range files {
		rows := s.lines - 1
		if rows < 0 {
			rows = 0
		}
		art := Artifact{Path: s.path, Compressed: true}
		e := o.newEntry(KindImport, FormatTSV, zone, art, o.importTask(rows, chunk))
		o.start(ctx, e)
		entries = append(entries, e)
	}
	return entries, nil
}

func (o *Orchestrator) importTask(rows int64, chunk int) job.Task[Artifact] {
	return func(ctx context.Context, art Artifact, report job.Reporter) error {
		f, err := os.Open(art.Path)
		if err != nil {
			return fmt.Errorf("opening staged upload: %w", err)
		}
		defer f.Close()
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening staged upload: %w", err)
		}
		defer zr.Close()

		lr := newLineReader(zr)
		header, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		cols, err := mapColumns(header)
		if err != nil {
			return err
		}

		// Imported rows get sort keys from their own timestamps, not from
		// the live ingestion sequence.
		var seq record.Sequence
		batch := make([]record.Record, 0, chunk)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := o.store.AddBatch(ctx, batch); err != nil {
				return fmt.Errorf("committing rows before line %d: %w", lr.line, err)
			}
			batch = batch[:0]
			return nil
		}

		var done int64
		for {
			row, err := lr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if len(row) == 1 && row[0] == "" {
				continue
			}
			pkt, err := cols.packet(row, lr.line)
			if err != nil {
				return apperrors.ErrValidation.WithCause(err).WithMessage("%v", err)
			}
			rec := record.FromMessage(pkt, o.parser.Parse(pkt), seq.Next(pkt.ReceivedAt))
			batch = append(batch, rec)
			if len(batch) >= chunk {
				if err := flush(); err != nil {
					return err
				}
			}
			done++
			report(rows, done)
		}
		return flush()
	}
}

func (o *Orchestrator) newEntry(kind Kind, format Format, zone *time.Location, art Artifact, task job.Task[Artifact]) *Entry {
	return &Entry{
		Kind:   kind,
		Format: format,
		Zone:   zone,
		Job:    job.New(art, task, job.WithInterval(o.interval)),
	}
}

func (o *Orchestrator) start(ctx context.Context, e *Entry) {
	label := string(e.Kind) + "_" + strings.ToLower(string(e.Format))
	jobCtx := logging.WithJobID(context.WithoutCancel(ctx), e.ID())

	e.Job.OnUpdate(func(p job.Progress) {
		switch p.Event {
		case job.EventStart:
			metrics.JobStarted(label)
			o.logger.InfowCtx(jobCtx, "Job started", "type", e.Kind, "format", e.Format)
		case job.EventFinish:
			err := e.Job.Err()
			metrics.JobFinished(label, e.Job.FinishedAt().Sub(e.Job.StartedAt()), err)
			metrics.AddBulkRows(label, int(p.Current))
			if err != nil {
				o.logger.ErrorwCtx(jobCtx, "Job failed", "type", e.Kind, "format", e.Format, "error", err)
			} else {
				o.logger.InfowCtx(jobCtx, "Job finished", "type", e.Kind, "format", e.Format, "rows", p.Current)
			}
		}
		o.publish(jobCtx, e.payload(p, e.Zone))
	})

	o.registry.put(e)
	e.Job.Start(jobCtx)
}

// Remove discards a finished job and its artifact.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	e, err := o.registry.Remove(id)
	if err != nil {
		return err
	}
	if path := e.Job.Payload().Path; path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.logger.WarnwCtx(logging.WithJobID(ctx, id), "Failed to delete artifact", "path", path, "error", err)
		}
	}
	o.publish(ctx, e.removed())
	return nil
}

// Artifact opens the uncompressed content of a finished job's file.
func (o *Orchestrator) Artifact(id string) (io.ReadCloser, *Entry, error) {
	e, err := o.registry.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if e.Job.State() != job.StateFinished {
		return nil, nil, apperrors.ErrConflict.WithMessage("job %s is still running", id)
	}
	art := e.Job.Payload()
	if art.Path == "" {
		return nil, nil, apperrors.ErrNotFound.WithMessage("job %s has no file", id)
	}

	f, err := os.Open(art.Path)
	if os.IsNotExist(err) {
		return nil, nil, apperrors.ErrNotFound.WithCause(err).WithMessage("job %s has no file", id)
	}
	if err != nil {
		return nil, nil, apperrors.ErrInternal.WithCause(err)
	}
	if !art.Compressed {
		return f, e, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, apperrors.ErrInternal.WithCause(err)
	}
	return &gzipFile{Reader: zr, file: f}, e, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.file.Close()
}

// Wait blocks until every running job has finished or timeout elapses. It
// reports whether all jobs finished.
func (o *Orchestrator) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for _, e := range o.registry.List() {
		left := time.Until(deadline)
		if left <= 0 {
			return !anyAlive(o.registry.List())
		}
		if !e.Job.Join(left) {
			return false
		}
	}
	return true
}

func anyAlive(entries []*Entry) bool {
	for _, e := range entries {
		if e.Job.Alive() {
			return true
		}
	}
	return false
}

func zoneOrLocal(zone *time.Location) *time.Location {
	if zone == nil {
		return time.Local
	}
	return zone
}
