package index

import (
	"context"
	"errors"
	"time"

	"logsift/internal/record"
)

var (
	// ErrIndexNotFound means nothing has been written yet.
	ErrIndexNotFound = errors.New("index not found")
	// ErrDocumentNotFound means the id is not part of the reader snapshot.
	ErrDocumentNotFound = errors.New("document not found")
)

// Engine is the durable document index. Add and AddBatch commit before
// returning. Writes are serialized by the engine; readers may run
// concurrently with a writer.
type Engine interface {
	Add(ctx context.Context, doc record.Document) error
	AddBatch(ctx context.Context, docs []record.Document) error
	OpenReader(ctx context.Context) (Reader, error)
	Close() error
}

// Reader is a point-in-time snapshot of the index. Ids it returns are only
// valid for the same Reader. Callers must Close it.
type Reader interface {
	Search(ctx context.Context, q Query, sort Sort) (Hits, error)
	FacetCount(ctx context.Context, q Query, groupBy record.Field, offset, limit int) ([]Group, error)
	RangeFacetCount(ctx context.Context, q Query, buckets Buckets, offset, limit int) ([]RangeGroup, error)
	Document(ctx context.Context, id int64) (record.Document, error)
	Close() error
}

// Query is a query string in the index query language. Terms without a
// field search Field. Dates in range bounds and derived day/time fields are
// interpreted in Zone.
type Query struct {
	Field record.Field
	Text  string
	Zone  *time.Location
}

type Sort struct {
	Field record.Field
	Desc  bool
}

// Newest orders by ingestion order, latest first.
var Newest = Sort{Field: record.SortKey, Desc: true}

// Oldest orders by ingestion order, earliest first.
var Oldest = Sort{Field: record.SortKey}

type Hits struct {
	Total   int64
	IDs     []int64
	Elapsed time.Duration
}

type Group struct {
	Value string
	Count int64
}

// Buckets tiles [Min, Max) of a numeric field into Width wide ranges.
type Buckets struct {
	Field record.Field
	Min   int64
	Width int64
	Max   int64
}

// RangeGroup counts the documents in [Min, Max).
type RangeGroup struct {
	Min   int64
	Max   int64
	Count int64
}
