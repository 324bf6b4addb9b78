package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"logsift/internal/index"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/syslog"
	apperrors "logsift/pkg/errors"
	"logsift/pkg/metrics"
)

// facetPageSize is the number of groups requested per page while merging
// facet counts.
const facetPageSize = 1024

// Store is the record-level view of the index. It is safe for concurrent
// use; writes are serialized by the engine.
type Store struct {
	engine index.Engine
	logger logger.Logger
}

func New(engine index.Engine, log logger.Logger) *Store {
	return &Store{engine: engine, logger: log}
}

// SearchRequest selects records. An empty Query matches everything and a
// zero Field searches the message field.
type SearchRequest struct {
	Field record.Field
	Query string
	Sort  index.Sort
	Zone  *time.Location
}

func (r SearchRequest) indexQuery() index.Query {
	q := index.Query{Field: r.Field, Text: r.Query, Zone: r.Zone}
	if q.Field.IsZero() {
		q.Field = record.DefaultField
	}
	if q.Zone == nil {
		q.Zone = time.Local
	}
	return q
}

func (r SearchRequest) sort() index.Sort {
	if r.Sort.Field.IsZero() {
		return index.Newest
	}
	return r.Sort
}

type SearchResult struct {
	Query string        `json:"query"`
	Total int64         `json:"total"`
	IDs   []int64       `json:"ids"`
	Ms    int64         `json:"ms"`
	Took  time.Duration `json:"-"`
}

// Add commits one record before returning.
func (s *Store) Add(ctx context.Context, rec record.Record) error {
	start := time.Now()
	err := s.engine.Add(ctx, rec.Document())
	metrics.ObserveIndexWrite("add", 1, time.Since(start), err)
	return err
}

// AddBatch commits recs together.
func (s *Store) AddBatch(ctx context.Context, recs []record.Record) error {
	docs := make([]record.Document, len(recs))
	for i, rec := range recs {
		docs[i] = rec.Document()
	}

	start := time.Now()
	err := s.engine.AddBatch(ctx, docs)
	metrics.ObserveIndexWrite("add_batch", len(recs), time.Since(start), err)
	return err
}

// openReader returns nil without error when nothing has been indexed yet.
func (s *Store) openReader(ctx context.Context) (index.Reader, error) {
	r, err := s.engine.OpenReader(ctx)
	if errors.Is(err, index.ErrIndexNotFound) {
		s.logger.WarnwCtx(ctx, "index not found")
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	return r, nil
}

func translate(err error) error {
	if errors.Is(err, index.ErrInvalidQuery) {
		return apperrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	return apperrors.ErrInternal.WithCause(err)
}

func search(ctx context.Context, r index.Reader, req SearchRequest) (SearchResult, error) {
	hits, err := r.Search(ctx, req.indexQuery(), req.sort())
	if err != nil {
		return SearchResult{}, translate(err)
	}
	return SearchResult{
		Query: req.Query,
		Total: hits.Total,
		IDs:   hits.IDs,
		Ms:    hits.Elapsed.Milliseconds(),
		Took:  hits.Elapsed,
	}, nil
}

// Search runs req on a fresh snapshot. The ids are only meaningful on that
// snapshot; use Documents or Snapshot to resolve them.
func (s *Store) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	start := time.Now()
	result, err := s.search(ctx, req)
	metrics.ObserveIndexQuery("search", time.Since(start), err)
	return result, err
}

func (s *Store) search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	r, err := s.openReader(ctx)
	if err != nil || r == nil {
		return SearchResult{Query: req.Query, IDs: []int64{}}, err
	}
	defer r.Close()
	return search(ctx, r, req)
}

type Page struct {
	Result  SearchResult
	Records []record.Record
}

// Documents searches and loads the matches in [first, last) from the same
// snapshot. A negative last means to the end.
func (s *Store) Documents(ctx context.Context, req SearchRequest, first, last int) (Page, error) {
	start := time.Now()
	page, err := s.documents(ctx, req, first, last)
	metrics.ObserveIndexQuery("documents", time.Since(start), err)
	return page, err
}

func (s *Store) documents(ctx context.Context, req SearchRequest, first, last int) (Page, error) {
	if first < 0 {
		return Page{}, apperrors.ErrValidation.WithMessage("first must not be negative")
	}

	snap, err := s.Snapshot(ctx, req)
	if err != nil {
		return Page{}, err
	}
	defer snap.Close()

	ids := snap.Result.IDs
	if last < 0 || last > len(ids) {
		last = len(ids)
	}
	if first > last {
		first = last
	}

	page := Page{Result: snap.Result, Records: make([]record.Record, 0, last-first)}
	for _, id := range ids[first:last] {
		rec, err := snap.Record(ctx, id)
		if err != nil {
			return Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// FacetCount counts matches per distinct value of groupBy, merging engine
// pages until one comes back empty.
func (s *Store) FacetCount(ctx context.Context, req SearchRequest, groupBy record.Field) (map[string]int64, error) {
	start := time.Now()
	counts, err := s.facetCount(ctx, req, groupBy)
	metrics.ObserveIndexQuery("facet_count", time.Since(start), err)
	return counts, err
}

func (s *Store) facetCount(ctx context.Context, req SearchRequest, groupBy record.Field) (map[string]int64, error) {
	counts := make(map[string]int64)

	r, err := s.openReader(ctx)
	if err != nil || r == nil {
		return counts, err
	}
	defer r.Close()

	for offset := 0; ; offset += facetPageSize {
		groups, err := r.FacetCount(ctx, req.indexQuery(), groupBy, offset, facetPageSize)
		if err != nil {
			return nil, translate(err)
		}
		if len(groups) == 0 {
			return counts, nil
		}
		for _, g := range groups {
			counts[g.Value] += g.Count
		}
	}
}

type DayRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Overview describes the corpus for building query forms.
type Overview struct {
	Facility []string `json:"facility"`
	Severity []string `json:"severity"`
	Host     []string `json:"host"`
	Day      DayRange `json:"day"`
}

// Overview lists the enumerations, the distinct hosts and the timestamp
// range of everything indexed. An empty index reports now as both ends.
func (s *Store) Overview(ctx context.Context, zone *time.Location) (Overview, error) {
	ov := Overview{
		Facility: syslog.Facilities(),
		Severity: syslog.Severities(),
		Host:     []string{},
	}

	hosts, err := s.FacetCount(ctx, SearchRequest{Zone: zone}, record.Host)
	if err != nil {
		return Overview{}, err
	}
	for h := range hosts {
		ov.Host = append(ov.Host, h)
	}
	sort.Strings(ov.Host)

	now := time.Now().UnixMilli()
	ov.Day = DayRange{Min: now, Max: now}

	r, err := s.openReader(ctx)
	if err != nil || r == nil {
		return ov, err
	}
	defer r.Close()

	lo, hi, ok, err := timestampBounds(ctx, r, SearchRequest{Zone: zone})
	if err != nil {
		return Overview{}, err
	}
	if ok {
		ov.Day = DayRange{Min: lo, Max: hi}
	}
	return ov, nil
}

// timestampBounds returns the earliest and latest matching timestamps.
func timestampBounds(ctx context.Context, r index.Reader, req SearchRequest) (int64, int64, bool, error) {
	req.Sort = index.Sort{Field: record.Timestamp}
	result, err := search(ctx, r, req)
	if err != nil {
		return 0, 0, false, err
	}
	if len(result.IDs) == 0 {
		return 0, 0, false, nil
	}

	first, err := r.Document(ctx, result.IDs[0])
	if err != nil {
		return 0, 0, false, translate(err)
	}
	last, err := r.Document(ctx, result.IDs[len(result.IDs)-1])
	if err != nil {
		return 0, 0, false, translate(err)
	}
	return first.Num(record.Timestamp), last.Num(record.Timestamp), true, nil
}
