package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"logsift/internal/record"
)

type sqliteReader struct {
	tx *sql.Tx
}

func (r *sqliteReader) Close() error {
	err := r.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (r *sqliteReader) Search(ctx context.Context, q Query, sort Sort) (Hits, error) {
	start := time.Now()

	if !sort.Field.Has(record.CapSort) {
		return Hits{}, fmt.Errorf("%w: field %q is not sortable", ErrInvalidQuery, sort.Field.Name())
	}
	where, args, err := compileQuery(q)
	if err != nil {
		return Hits{}, err
	}

	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	stmt := fmt.Sprintf("SELECT id FROM records WHERE %s ORDER BY %s %s, id %s",
		where, sort.Field.Name(), dir, dir)

	rows, err := r.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Hits{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 64)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Hits{}, fmt.Errorf("search: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return Hits{}, fmt.Errorf("search: %w", err)
	}

	return Hits{Total: int64(len(ids)), IDs: ids, Elapsed: time.Since(start)}, nil
}

// FacetCount groups the matches by groupBy, largest groups first.
func (r *sqliteReader) FacetCount(ctx context.Context, q Query, groupBy record.Field, offset, limit int) ([]Group, error) {
	if !groupBy.Has(record.CapFacet) {
		return nil, fmt.Errorf("%w: field %q cannot be grouped", ErrInvalidQuery, groupBy.Name())
	}
	where, args, err := compileQuery(q)
	if err != nil {
		return nil, err
	}

	col := groupBy.Name()
	stmt := fmt.Sprintf(`SELECT CAST(%s AS TEXT), COUNT(*) FROM records WHERE %s
		GROUP BY %s ORDER BY COUNT(*) DESC, %s LIMIT ? OFFSET ?`, col, where, col, col)
	args = append(args, limit, offset)

	rows, err := r.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("facet count: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, fmt.Errorf("facet count: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// RangeFacetCount counts matches per bucket for the buckets offset through
// offset+limit. Empty buckets are included, so an empty page means the
// buckets are exhausted.
func (r *sqliteReader) RangeFacetCount(ctx context.Context, q Query, b Buckets, offset, limit int) ([]RangeGroup, error) {
	if b.Field.Kind() != record.KindNumeric || !b.Field.Has(record.CapRange) {
		return nil, fmt.Errorf("%w: field %q has no ranges", ErrInvalidQuery, b.Field.Name())
	}
	if b.Width <= 0 {
		return nil, fmt.Errorf("%w: bucket width must be positive", ErrInvalidQuery)
	}

	total := int((b.Max - b.Min + b.Width - 1) / b.Width)
	if b.Max <= b.Min || offset >= total {
		return nil, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	lo := b.Min + int64(offset)*b.Width
	hi := b.Min + int64(end)*b.Width
	if hi > b.Max {
		hi = b.Max
	}

	where, args, err := compileQuery(q)
	if err != nil {
		return nil, err
	}
	col := b.Field.Name()
	stmt := fmt.Sprintf(`SELECT (%s - ?) / ?, COUNT(*) FROM records
		WHERE (%s) AND %s >= ? AND %s < ? GROUP BY 1`, col, where, col, col)
	args = append([]interface{}{b.Min, b.Width}, args...)
	args = append(args, lo, hi)

	rows, err := r.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("range facet count: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var bucket, count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("range facet count: %w", err)
		}
		counts[bucket] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range facet count: %w", err)
	}

	groups := make([]RangeGroup, 0, end-offset)
	for i := offset; i < end; i++ {
		from := b.Min + int64(i)*b.Width
		to := from + b.Width
		if to > b.Max {
			to = b.Max
		}
		groups = append(groups, RangeGroup{Min: from, Max: to, Count: counts[int64(i)]})
	}
	return groups, nil
}

func (r *sqliteReader) Document(ctx context.Context, id int64) (record.Document, error) {
	names := make([]string, len(columns))
	for i, f := range columns {
		names[i] = f.Name()
	}
	stmt := "SELECT " + strings.Join(names, ", ") + " FROM records WHERE id = ?"

	nums := make([]int64, len(columns))
	strs := make([]string, len(columns))
	dest := make([]interface{}, len(columns))
	for i, f := range columns {
		if f.Kind() == record.KindNumeric {
			dest[i] = &nums[i]
		} else {
			dest[i] = &strs[i]
		}
	}

	if err := r.tx.QueryRowContext(ctx, stmt, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}

	doc := make(record.Document, len(columns))
	for i, f := range columns {
		if f.Kind() == record.KindNumeric {
			doc[i] = record.NumericValue(f, nums[i])
		} else {
			doc[i] = record.StringValue(f, strs[i])
		}
	}
	return doc, nil
}
