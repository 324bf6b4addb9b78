package bulk

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"logsift/internal/job"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
	apperrors "logsift/pkg/errors"
)

var escaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, "\t", `\t`)

// Escape backslash-escapes the characters that would break a TSV cell.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. Unknown escapes are kept verbatim.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func writeRow(w *bufio.Writer, cells []string) error {
	for i, c := range cells {
		if i > 0 {
			if err := w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(Escape(c)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// exportTSV writes a header row followed by one row per snapshot id, with
// day and time rendered in zone.
func exportTSV(ctx context.Context, snap *store.Snapshot, art Artifact, zone *time.Location, report job.Reporter) error {
	f, err := os.Create(art.Path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 64*1024)
	if err := writeRow(w, record.Header()); err != nil {
		return err
	}

	ids := snap.Result.IDs
	total := int64(len(ids))
	for i, id := range ids {
		rec, err := snap.Record(ctx, id)
		if err != nil {
			return err
		}
		if err := writeRow(w, rec.Row(zone)); err != nil {
			return err
		}
		report(total, int64(i+1))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// importColumns are the fields a record is rebuilt from.
var importColumns = []record.Field{record.Timestamp, record.Addr, record.Port, record.Raw}

type columnMap map[string]int

func mapColumns(header []string) (columnMap, error) {
	cols := make(columnMap, len(importColumns))
	for i, name := range header {
		for _, f := range importColumns {
			if f.Name() == name {
				cols[name] = i
			}
		}
	}
	for _, f := range importColumns {
		if _, ok := cols[f.Name()]; !ok {
			return nil, apperrors.ErrValidation.WithMessage("missing column %q", f.Name())
		}
	}
	return cols, nil
}

func (c columnMap) packet(row []string, line int64) (syslog.RawPacket, error) {
	cell := func(f record.Field) (string, error) {
		i := c[f.Name()]
		if i >= len(row) {
			return "", fmt.Errorf("line %d: missing %s", line, f.Name())
		}
		return Unescape(row[i]), nil
	}

	ts, err := cell(record.Timestamp)
	if err != nil {
		return syslog.RawPacket{}, err
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return syslog.RawPacket{}, fmt.Errorf("line %d: bad timestamp %q", line, ts)
	}
	addr, err := cell(record.Addr)
	if err != nil {
		return syslog.RawPacket{}, err
	}
	p, err := cell(record.Port)
	if err != nil {
		return syslog.RawPacket{}, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return syslog.RawPacket{}, fmt.Errorf("line %d: bad port %q", line, p)
	}
	raw, err := cell(record.Raw)
	if err != nil {
		return syslog.RawPacket{}, err
	}

	return syslog.RawPacket{
		Addr:       addr,
		Port:       port,
		Data:       []byte(raw),
		ReceivedAt: time.UnixMilli(millis),
	}, nil
}

// lineReader yields TSV rows without a line length limit.
type lineReader struct {
	r    *bufio.Reader
	line int64
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns io.EOF once no rows remain.
func (l *lineReader) Next() ([]string, error) {
	s, err := l.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return nil, err
	}
	l.line++
	s = strings.TrimRight(s, "\r\n")
	return strings.Split(s, "\t"), nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// stage copies an upload, gzip compressed or plain, into a gzip file in dir
// and counts its lines.
func stage(dir string, body io.Reader) (path string, lines int64, err error) {
	br := bufio.NewReader(body)
	var src io.Reader = br
	if magic, _ := br.Peek(len(gzipMagic)); bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return "", 0, apperrors.ErrValidation.WithCause(err).WithMessage("invalid gzip upload")
		}
		defer zr.Close()
		src = zr
	}

	f, err := os.CreateTemp(dir, "logsift_import_*.tsv.gz")
	if err != nil {
		return "", 0, fmt.Errorf("staging upload: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	zw := gzip.NewWriter(f)
	buf := make([]byte, 64*1024)
	last := byte('\n')
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
			if _, err = zw.Write(buf[:n]); err != nil {
				return "", 0, fmt.Errorf("staging upload: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", 0, fmt.Errorf("reading upload: %w", rerr)
		}
	}
	if last != '\n' {
		lines++
	}
	if err = zw.Close(); err != nil {
		return "", 0, fmt.Errorf("staging upload: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", 0, fmt.Errorf("staging upload: %w", err)
	}
	return f.Name(), lines, nil
}
