package store

import (
	"context"
	"errors"

	"logsift/internal/index"
	"logsift/internal/record"
	apperrors "logsift/pkg/errors"
)

// Snapshot pairs a search result with the reader that produced it, so the
// ids can be resolved later. It must be closed.
type Snapshot struct {
	Result SearchResult
	reader index.Reader
}

// Snapshot searches on a reader that stays open until the Snapshot is
// closed. An empty index yields an empty Snapshot.
func (s *Store) Snapshot(ctx context.Context, req SearchRequest) (*Snapshot, error) {
	r, err := s.openReader(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &Snapshot{Result: SearchResult{Query: req.Query, IDs: []int64{}}}, nil
	}

	result, err := search(ctx, r, req)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &Snapshot{Result: result, reader: r}, nil
}

// Record loads one id of the snapshot.
func (s *Snapshot) Record(ctx context.Context, id int64) (record.Record, error) {
	if s.reader == nil {
		return record.Record{}, apperrors.ErrNotFound.WithCause(index.ErrDocumentNotFound)
	}
	doc, err := s.reader.Document(ctx, id)
	if errors.Is(err, index.ErrDocumentNotFound) {
		return record.Record{}, apperrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return record.Record{}, apperrors.ErrInternal.WithCause(err)
	}
	return record.FromDocument(id, doc), nil
}

func (s *Snapshot) Close() error {
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}
