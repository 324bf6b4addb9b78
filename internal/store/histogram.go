package store

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"logsift/internal/index"
	"logsift/internal/record"
	apperrors "logsift/pkg/errors"
	"logsift/pkg/metrics"
)

const (
	minuteKeyLayout = "2006-01-02 15:04"
	minutesPerDay   = 24 * 60
)

type Bucket struct {
	Key   string
	Start time.Time
	Count int64
}

// Histogram is an ordered list of buckets. It encodes as a JSON object
// whose keys keep bucket order.
type Histogram struct {
	Buckets []Bucket
}

func (h Histogram) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range h.Buckets {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(b.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(b.Count, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// bucketKey names a bucket by its local start. A daily bucket that does not
// start at midnight gets its time of day, and a wall time repeated by a
// fall-back change gets its zone abbreviation.
func bucketKey(start time.Time, layout string, seen map[string]bool) string {
	if layout == record.DayLayout && !start.Equal(startOfDay(start)) {
		layout = minuteKeyLayout
	}
	key := start.Format(layout)
	if seen[key] {
		key = start.Format(layout + " MST")
	}
	return key
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TimeHistogram counts matches in widthMinutes wide buckets tiling
// [start of the earliest match's day, start of the day after the latest
// match) in req.Zone. Every bucket is present, empty ones with zero.
//
// Buckets have a fixed width in absolute time. Across a DST change in
// req.Zone daily buckets stop starting at midnight and the last one is
// shorter; see bucketKey for how their keys stay distinct.
func (s *Store) TimeHistogram(ctx context.Context, req SearchRequest, widthMinutes int) (Histogram, error) {
	start := time.Now()
	h, err := s.timeHistogram(ctx, req, widthMinutes)
	metrics.ObserveIndexQuery("time_histogram", time.Since(start), err)
	return h, err
}

func (s *Store) timeHistogram(ctx context.Context, req SearchRequest, widthMinutes int) (Histogram, error) {
	h := Histogram{Buckets: []Bucket{}}
	if widthMinutes <= 0 {
		return h, apperrors.ErrValidation.WithMessage("bucket width must be a positive number of minutes")
	}
	zone := req.indexQuery().Zone

	r, err := s.openReader(ctx)
	if err != nil || r == nil {
		return h, err
	}
	defer r.Close()

	lo, hi, ok, err := timestampBounds(ctx, r, req)
	if err != nil || !ok {
		return h, err
	}

	from := startOfDay(time.UnixMilli(lo).In(zone))
	until := startOfDay(time.UnixMilli(hi).In(zone).AddDate(0, 0, 1))
	width := time.Duration(widthMinutes) * time.Minute

	layout := minuteKeyLayout
	if widthMinutes >= minutesPerDay {
		layout = record.DayLayout
	}

	buckets := index.Buckets{
		Field: record.Timestamp,
		Min:   from.UnixMilli(),
		Width: width.Milliseconds(),
		Max:   until.UnixMilli(),
	}
	seen := make(map[string]bool)
	for offset := 0; ; offset += facetPageSize {
		groups, err := r.RangeFacetCount(ctx, req.indexQuery(), buckets, offset, facetPageSize)
		if err != nil {
			return Histogram{}, translate(err)
		}
		if len(groups) == 0 {
			return h, nil
		}
		for _, g := range groups {
			bucketStart := time.UnixMilli(g.Min).In(zone)
			key := bucketKey(bucketStart, layout, seen)
			seen[key] = true
			h.Buckets = append(h.Buckets, Bucket{
				Key:   key,
				Start: bucketStart,
				Count: g.Count,
			})
		}
	}
}
