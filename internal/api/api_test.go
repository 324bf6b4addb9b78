package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsift/internal/bulk"
	"logsift/internal/hub"
	"logsift/internal/index"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
)

const waitJob = 10 * time.Second

type fixture struct {
	store    *store.Store
	bulk     *bulk.Orchestrator
	realtime *hub.Hub[record.Record]
	jobs     *hub.Hub[bulk.Payload]
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := index.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	st := store.New(engine, logger.NopLogger())

	orch, err := bulk.New(st, syslog.NewParser(), bulk.Options{
		WorkDir:          t.TempDir(),
		ProgressInterval: 10 * time.Millisecond,
	}, logger.NopLogger())
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		bulk:     orch,
		realtime: hub.New[record.Record]("realtime"),
		jobs:     hub.New[bulk.Payload]("job"),
	}
	t.Cleanup(f.realtime.Close)
	t.Cleanup(f.jobs.Close)
	orch.AddSink(bulk.SinkFunc(func(_ context.Context, p bulk.Payload) { f.jobs.Broadcast(p) }))

	h := NewHandler(Deps{
		Store:    st,
		Bulk:     orch,
		Realtime: f.realtime,
		Jobs:     f.jobs,
		Settings: map[string]string{"zone": "UTC"},
		Zone:     time.UTC,
		Logger:   logger.NopLogger(),
	})
	f.router = NewRouter(h, nil)
	return f
}

func (f *fixture) seed(t *testing.T, lines ...string) {
	t.Helper()
	parser := syslog.NewParser()
	base := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	for i, line := range lines {
		pkt := syslog.RawPacket{
			Addr:       fmt.Sprintf("192.0.2.%d", i+1),
			Port:       514,
			Data:       []byte(line),
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		}
		rec := record.FromMessage(pkt, parser.Parse(pkt), record.SortKeyAt(pkt.ReceivedAt))
		require.NoError(t, f.store.Add(context.Background(), rec))
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) waitFinished(t *testing.T, id string) *bulk.Entry {
	t.Helper()
	e, err := f.bulk.Registry().Get(id)
	require.NoError(t, err)
	require.True(t, e.Job.Join(waitJob), "job %s did not finish", id)
	return e
}

var sample = []string{
	"<34>Oct 11 22:14:15 alpha su: 'su root' failed for lonvick",
	"<13>Oct 12 01:02:03 beta app: disk almost full",
	"<13>Oct 12 01:02:04 beta app: disk full",
}

func TestZoneFromOffset(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantOffset int
		wantName   string
	}{
		{name: "empty falls back", in: "", wantOffset: 0, wantName: "UTC"},
		{name: "tokyo", in: "-540", wantOffset: 9 * 3600, wantName: "UTC+09:00"},
		{name: "new york", in: "300", wantOffset: -5 * 3600, wantName: "UTC-05:00"},
		{name: "half hour", in: "-330", wantOffset: 5*3600 + 1800, wantName: "UTC+05:30"},
		{name: "garbage falls back", in: "abc", wantOffset: 0, wantName: "UTC"},
		{name: "out of range falls back", in: "5000", wantOffset: 0, wantName: "UTC"},
	}
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := zoneFromOffset(tt.in, time.UTC)
			name, offset := ref.In(loc).Zone()
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	w := f.get("/api/search?query=host:beta")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res store.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(2), res.Total)
	assert.Len(t, res.IDs, 2)
}

func TestSearchRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	tests := []struct {
		name string
		path string
	}{
		{name: "unknown field in query", path: "/api/search?query=nosuchfield:1"},
		{name: "unknown default field", path: "/api/search?query=x&field=nosuch"},
		{name: "unsortable field", path: "/api/search?query=x&sort=message"},
		{name: "bad paging", path: "/api/documents?first=abc"},
		{name: "group by unknown field", path: "/api/group/count?field=nosuch"},
		{name: "group by message", path: "/api/group/count?field=message"},
		{name: "zero span", path: "/api/group/count/timeline?span=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "VALIDATION_ERROR", body["error_code"])
		})
	}
}

func TestDocumentsGzip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	req := httptest.NewRequest(http.MethodGet, "/api/documents?query=disk&first=0&last=1", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Tz-Offset", "-540")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var resp struct {
		Total int64            `json:"total"`
		Docs  []map[string]any `json:"docs"`
	}
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))

	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Docs, 1)
	doc := resp.Docs[0]
	assert.Contains(t, doc, "id")
	assert.Equal(t, "beta", doc["host"])
	// 23:32 UTC is the next morning in UTC+9.
	assert.Equal(t, "2024-03-02", doc["day"])
}

func TestDocumentsPlain(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	w := f.get("/api/documents?query=*:*")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))

	var resp documentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Len(t, resp.Docs, 3)
}

func TestGroupCountAndTimeline(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	w := f.get("/api/group/count?field=host&query=*:*")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	assert.Equal(t, map[string]int64{"alpha": 1, "beta": 2}, counts)

	w = f.get("/api/group/count/timeline?query=*:*&span=60")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var hist map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	var total int64
	for _, n := range hist {
		total += n
	}
	assert.Equal(t, int64(3), total)
}

func TestConfig(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	w := f.get("/api/config")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Host     []string          `json:"host"`
		Fields   []fieldInfo       `json:"fields"`
		Settings map[string]string `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"alpha", "beta"}, resp.Host)
	assert.Equal(t, "UTC", resp.Settings["zone"])

	names := make([]string, len(resp.Fields))
	for i, fi := range resp.Fields {
		names[i] = fi.Name
	}
	assert.Contains(t, names, "host")
	assert.NotContains(t, names, "sort")
}

func TestExportDownloadRemove(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)

	w := f.do(httptest.NewRequest(http.MethodPost, "/api/export/tsv?query=host:beta", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started bulk.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, bulk.KindExport, started.Type)
	assert.Equal(t, bulk.FormatTSV, started.Format)

	e := f.waitFinished(t, started.ID)
	require.NoError(t, e.Job.Err())

	w = f.get("/api/job")
	require.Equal(t, http.StatusOK, w.Code)
	var list map[string]bulk.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Contains(t, list, started.ID)
	assert.NotNil(t, list[started.ID].Finish)

	w = f.get("/api/download?id=" + started.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "logsift.tsv.gz")
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(record.Header(), "\t"), lines[0])

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/job?id="+started.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.get("/api/download?id=" + started.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/job?id="+started.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportPostgresDisabled(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodPost, "/api/export/postgres?query=*:*", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestImportTSV(t *testing.T) {
	f := newFixture(t)

	var tsv bytes.Buffer
	tsv.WriteString("timestamp\taddr\tport\traw\n")
	tsv.WriteString("1700000000000\t192.0.2.9\t514\t<13>Oct 12 01:02:03 gamma app: imported\n")
	tsv.WriteString("1700000001000\t192.0.2.9\t514\t<13>Oct 12 01:02:04 gamma app: imported again\n")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "records.tsv")
	require.NoError(t, err)
	_, err = part.Write(tsv.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/tsv?chunk=1", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started []bulk.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.Len(t, started, 1)
	assert.Equal(t, bulk.KindImport, started[0].Type)

	e := f.waitFinished(t, started[0].ID)
	require.NoError(t, e.Job.Err())

	res, err := f.store.Search(context.Background(), store.SearchRequest{Query: "host:gamma"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
}

func TestImportWithoutFiles(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "empty"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/tsv", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func dial(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers[T any](t *testing.T, h *hub.Hub[T], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Len() >= n }, 5*time.Second, 10*time.Millisecond)
}

func TestRealtimeSocketRendersClientZone(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/realtime", http.Header{"Cookie": {"X-Tz-Offset=-540"}})
	waitSubscribers(t, f.realtime, 1)

	f.realtime.Broadcast(record.Record{
		Timestamp: time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC),
		Host:      "alpha",
		Message:   "hello",
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got map[string]string
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "alpha", got["host"])
	assert.Equal(t, "2024-03-02", got["day"])
	assert.Equal(t, "08:30:00", got["time"])
}

func TestJobSocketStreamsEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sample...)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/job", nil)
	waitSubscribers(t, f.jobs, 1)

	w := f.do(httptest.NewRequest(http.MethodPost, "/api/export/sqlite?query=*:*", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	conn.SetReadDeadline(time.Now().Add(waitJob))
	var events []string
	for {
		var p bulk.Payload
		require.NoError(t, conn.ReadJSON(&p))
		assert.Equal(t, bulk.FormatSQLite, p.Format)
		events = append(events, string(p.Event))
		if p.Event == "finish" {
			break
		}
	}
	assert.Equal(t, "start", events[0])
}

func TestSocketClosesWithHub(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/realtime", nil)
	waitSubscribers(t, f.realtime, 1)
	f.realtime.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
