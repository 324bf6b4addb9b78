package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsift/internal/index"
	"logsift/internal/logger"
	"logsift/internal/record"
	apperrors "logsift/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	engine, err := index.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return New(engine, logger.NopLogger())
}

var tokyo = time.FixedZone("JST", 9*60*60)

func rec(ts time.Time, host, severity, message string) record.Record {
	return record.Record{
		SortKey:   record.SortKeyAt(ts),
		Timestamp: ts,
		Addr:      "192.0.2.1",
		Port:      514,
		Raw:       message,
		Host:      host,
		Facility:  "daemon",
		Severity:  severity,
		Format:    "rfc3164",
		Message:   message,
	}
}

func TestEmptyIndexIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result, err := s.Search(ctx, SearchRequest{Query: "*:*"})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, result.IDs)

	counts, err := s.FacetCount(ctx, SearchRequest{}, record.Severity)
	require.NoError(t, err)
	assert.Empty(t, counts)

	h, err := s.TimeHistogram(ctx, SearchRequest{}, 60)
	require.NoError(t, err)
	assert.Empty(t, h.Buckets)

	ov, err := s.Overview(ctx, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ov.Day.Min, ov.Day.Max)
	assert.Contains(t, ov.Facility, "kern")
	assert.Empty(t, ov.Host)
}

func TestSearchAllAndDerivedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, time.January, 31, 14, 59, 59, 0, time.UTC)
	var recs []record.Record
	for i := 0; i < 25; i++ {
		recs = append(recs, rec(base.Add(time.Duration(i)*7*time.Minute), "h", "info", fmt.Sprintf("event %d", i)))
	}
	require.NoError(t, s.AddBatch(ctx, recs))

	page, err := s.Documents(ctx, SearchRequest{Query: "*:*", Zone: tokyo}, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(recs)), page.Result.Total)
	require.Len(t, page.Records, len(recs))

	for _, got := range page.Records {
		fields := got.Fields(tokyo)
		local := got.Timestamp.In(tokyo)
		assert.Equal(t, local.Format(record.DayLayout), fields["day"])
		assert.Equal(t, local.Format(record.TimeLayout), fields["time"])

		byDay, err := s.Search(ctx, SearchRequest{Query: "day:" + fields["day"] + " AND time:" + fields["time"], Zone: tokyo})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, byDay.Total, int64(1))
	}

	// newest first by default
	assert.Equal(t, "event 24", page.Records[0].Message)
}

func TestDocumentsSlice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(ctx, rec(base.Add(time.Duration(i)*time.Second), "h", "info", fmt.Sprintf("m%d", i))))
	}

	page, err := s.Documents(ctx, SearchRequest{Query: "*:*"}, 1, 3)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "m3", page.Records[0].Message)
	assert.Equal(t, "m2", page.Records[1].Message)

	page, err = s.Documents(ctx, SearchRequest{Query: "*:*"}, 4, 100)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)

	_, err = s.Documents(ctx, SearchRequest{Query: "*:*"}, -1, 2)
	assert.True(t, apperrors.IsValidation(err))
}

func TestFacetCountMergesPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	var recs []record.Record
	for i := 0; i < facetPageSize+100; i++ {
		severity := "info"
		if i%3 == 0 {
			severity = "err"
		}
		recs = append(recs, rec(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("host%04d", i), severity, "x"))
	}
	require.NoError(t, s.AddBatch(ctx, recs))

	hosts, err := s.FacetCount(ctx, SearchRequest{Query: "*:*"}, record.Host)
	require.NoError(t, err)
	assert.Len(t, hosts, len(recs))

	total, err := s.Search(ctx, SearchRequest{Query: "*:*"})
	require.NoError(t, err)
	severities, err := s.FacetCount(ctx, SearchRequest{Query: "*:*"}, record.Severity)
	require.NoError(t, err)
	var sum int64
	for _, c := range severities {
		sum += c
	}
	assert.Equal(t, total.Total, sum)

	ov, err := s.Overview(ctx, time.UTC)
	require.NoError(t, err)
	assert.Len(t, ov.Host, len(recs))
	assert.Equal(t, "host0000", ov.Host[0])
	assert.Equal(t, base.UnixMilli(), ov.Day.Min)
}

func TestTimeHistogram(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2024-05-01 23:30 and 2024-05-03 01:10 in Tokyo
	first := time.Date(2024, time.May, 1, 23, 30, 0, 0, tokyo)
	last := time.Date(2024, time.May, 3, 1, 10, 0, 0, tokyo)
	require.NoError(t, s.AddBatch(ctx, []record.Record{
		rec(first, "a", "info", "one"),
		rec(first.Add(10*time.Minute), "a", "info", "two"),
		rec(last, "b", "err", "three"),
	}))

	h, err := s.TimeHistogram(ctx, SearchRequest{Query: "*:*", Zone: tokyo}, 60)
	require.NoError(t, err)
	require.Len(t, h.Buckets, 3*24)

	start := time.Date(2024, time.May, 1, 0, 0, 0, 0, tokyo)
	var sum int64
	for i, b := range h.Buckets {
		assert.True(t, start.Add(time.Duration(i)*time.Hour).Equal(b.Start), b.Key)
		sum += b.Count
	}
	assert.Equal(t, int64(3), sum)
	assert.Equal(t, "2024-05-01 00:00", h.Buckets[0].Key)
	assert.Equal(t, int64(2), h.Buckets[23].Count)
	assert.Equal(t, int64(0), h.Buckets[24].Count)
	assert.Equal(t, int64(1), h.Buckets[49].Count)

	daily, err := s.TimeHistogram(ctx, SearchRequest{Query: "*:*", Zone: tokyo}, 24*60)
	require.NoError(t, err)
	out, err := json.Marshal(daily)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2024-05-01":2,"2024-05-02":0,"2024-05-03":1}`, string(out))
	assert.Equal(t, `{"2024-05-01":2,"2024-05-02":0,"2024-05-03":1}`, string(out))

	filtered, err := s.TimeHistogram(ctx, SearchRequest{Query: "severity:err", Zone: tokyo}, 24*60)
	require.NoError(t, err)
	require.Len(t, filtered.Buckets, 1)
	assert.Equal(t, "2024-05-03", filtered.Buckets[0].Key)

	_, err = s.TimeHistogram(ctx, SearchRequest{Query: "*:*"}, 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestTimeHistogramAcrossFallBack(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddBatch(ctx, []record.Record{
		rec(time.Date(2024, time.November, 2, 12, 0, 0, 0, newYork), "a", "info", "before"),
		rec(time.Date(2024, time.November, 4, 12, 0, 0, 0, newYork), "a", "info", "after"),
	}))

	daily, err := s.TimeHistogram(ctx, SearchRequest{Query: "*:*", Zone: newYork}, 24*60)
	require.NoError(t, err)
	out, err := json.Marshal(daily)
	require.NoError(t, err)
	assert.Equal(t, `{"2024-11-02":1,"2024-11-03":0,"2024-11-03 23:00":1,"2024-11-04 23:00":0}`, string(out))
	last := daily.Buckets[len(daily.Buckets)-1]
	assert.True(t, time.Date(2024, time.November, 5, 0, 0, 0, 0, newYork).Sub(last.Start) == time.Hour)

	hourly, err := s.TimeHistogram(ctx, SearchRequest{Query: "*:*", Zone: newYork}, 60)
	require.NoError(t, err)
	require.Len(t, hourly.Buckets, 3*24+1)
	keys := make(map[string]bool, len(hourly.Buckets))
	for _, b := range hourly.Buckets {
		keys[b.Key] = true
	}
	assert.Len(t, keys, len(hourly.Buckets))
	assert.Equal(t, "2024-11-03 01:00", hourly.Buckets[25].Key)
	assert.Equal(t, "2024-11-03 01:00 EST", hourly.Buckets[26].Key)
}

func TestInvalidQueryIsValidationError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, rec(time.Now(), "h", "info", "x")))

	_, err := s.Search(ctx, SearchRequest{Query: "nosuchfield:1"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = s.FacetCount(ctx, SearchRequest{Query: `"unterminated`}, record.Host)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSnapshotResolvesIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, rec(time.Now(), "h", "info", "needle")))

	snap, err := s.Snapshot(ctx, SearchRequest{Query: "needle"})
	require.NoError(t, err)
	defer snap.Close()

	require.Len(t, snap.Result.IDs, 1)
	got, err := snap.Record(ctx, snap.Result.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, "needle", got.Message)

	_, err = snap.Record(ctx, 12345)
	assert.True(t, apperrors.IsNotFound(err))
}
