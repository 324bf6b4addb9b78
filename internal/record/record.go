package record

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"logsift/internal/syslog"
)

const (
	DayLayout  = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Record is one persisted syslog entry. ID is assigned by the index and is
// only meaningful within the reader snapshot that produced it.
type Record struct {
	ID         int64
	SortKey    int64
	Timestamp  time.Time
	Addr       string
	Port       int
	Raw        string
	Host       string
	Facility   string
	Severity   string
	Format     string
	Message    string
	Logged     time.Time
	App        string
	ProcID     string
	MsgID      string
	Structured []syslog.Param
}

// FromMessage builds the record for a parsed packet. The stored timestamp
// is the arrival instant at millisecond precision; the time the sender
// wrote into the payload is kept as Logged.
func FromMessage(pkt syslog.RawPacket, msg syslog.Message, sortKey int64) Record {
	rec := Record{
		SortKey:   sortKey,
		Timestamp: time.UnixMilli(pkt.ReceivedAt.UnixMilli()),
		Addr:      pkt.Addr,
		Port:      pkt.Port,
		Raw:       string(pkt.Data),
		Host:      msg.Host,
		Facility:  msg.Facility.String(),
		Severity:  msg.Severity.String(),
		Format:    string(msg.Format),
		Message:   msg.Body,
		Logged:    msg.Timestamp,
	}
	if s := msg.Structured; s != nil {
		rec.App = s.App
		rec.ProcID = s.ProcID
		rec.MsgID = s.MsgID
		rec.Structured = s.Data
	}
	return rec
}

// SortKeyAt is the sort key for an instant.
func SortKeyAt(ts time.Time) int64 {
	return ts.UnixNano()
}

// Sequence hands out strictly increasing sort keys that follow the clock,
// so records sharing a millisecond keep their arrival order.
type Sequence struct {
	mu   sync.Mutex
	last int64
}

func (s *Sequence) Next(ts time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := SortKeyAt(ts)
	if key <= s.last {
		key = s.last + 1
	}
	s.last = key
	return key
}

// Value is one field of a Document.
type Value struct {
	Field Field
	Num   int64
	Str   string
}

func NumericValue(f Field, v int64) Value {
	return Value{Field: f, Num: v}
}

func StringValue(f Field, v string) Value {
	return Value{Field: f, Str: v}
}

// Document is the index-ready form of a record.
type Document []Value

func (d Document) Get(f Field) (Value, bool) {
	for _, v := range d {
		if v.Field.name == f.name {
			return v, true
		}
	}
	return Value{}, false
}

func (d Document) Num(f Field) int64 {
	v, _ := d.Get(f)
	return v.Num
}

func (d Document) Str(f Field) string {
	v, _ := d.Get(f)
	return v.Str
}

func (r Record) Document() Document {
	logged := ""
	if !r.Logged.IsZero() {
		logged = r.Logged.Format(time.RFC3339Nano)
	}
	structured := ""
	if len(r.Structured) > 0 {
		if b, err := json.Marshal(r.Structured); err == nil {
			structured = string(b)
		}
	}

	return Document{
		NumericValue(SortKey, r.SortKey),
		NumericValue(Timestamp, r.Timestamp.UnixMilli()),
		StringValue(Host, r.Host),
		StringValue(Addr, r.Addr),
		NumericValue(Port, int64(r.Port)),
		StringValue(Facility, r.Facility),
		StringValue(Severity, r.Severity),
		StringValue(Format, r.Format),
		StringValue(Message, r.Message),
		StringValue(Raw, r.Raw),
		StringValue(Logged, logged),
		StringValue(App, r.App),
		StringValue(ProcID, r.ProcID),
		StringValue(MsgID, r.MsgID),
		StringValue(StructData, structured),
	}
}

func FromDocument(id int64, doc Document) Record {
	rec := Record{
		ID:        id,
		SortKey:   doc.Num(SortKey),
		Timestamp: time.UnixMilli(doc.Num(Timestamp)),
		Addr:      doc.Str(Addr),
		Port:      int(doc.Num(Port)),
		Raw:       doc.Str(Raw),
		Host:      doc.Str(Host),
		Facility:  doc.Str(Facility),
		Severity:  doc.Str(Severity),
		Format:    doc.Str(Format),
		Message:   doc.Str(Message),
		App:       doc.Str(App),
		ProcID:    doc.Str(ProcID),
		MsgID:     doc.Str(MsgID),
	}
	if s := doc.Str(Logged); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.Logged = t
		}
	}
	if s := doc.Str(StructData); s != "" {
		_ = json.Unmarshal([]byte(s), &rec.Structured)
	}
	return rec
}

// Value renders one field as text, deriving day and time in loc.
func (r Record) Value(f Field, loc *time.Location) string {
	switch f.name {
	case SortKey.name:
		return strconv.FormatInt(r.SortKey, 10)
	case Timestamp.name:
		return strconv.FormatInt(r.Timestamp.UnixMilli(), 10)
	case Day.name:
		return r.Timestamp.In(loc).Format(DayLayout)
	case Time.name:
		return r.Timestamp.In(loc).Format(TimeLayout)
	case Host.name:
		return r.Host
	case Addr.name:
		return r.Addr
	case Port.name:
		return strconv.Itoa(r.Port)
	case Facility.name:
		return r.Facility
	case Severity.name:
		return r.Severity
	case Format.name:
		return r.Format
	case Message.name:
		return r.Message
	case Raw.name:
		return r.Raw
	case Logged.name:
		if r.Logged.IsZero() {
			return ""
		}
		return r.Logged.Format(time.RFC3339Nano)
	case App.name:
		return r.App
	case ProcID.name:
		return r.ProcID
	case MsgID.name:
		return r.MsgID
	case StructData.name:
		if len(r.Structured) == 0 {
			return ""
		}
		b, _ := json.Marshal(r.Structured)
		return string(b)
	}
	return ""
}

// Fields flattens the catalog fields of r, with day and time in loc.
func (r Record) Fields(loc *time.Location) map[string]string {
	out := make(map[string]string, len(catalog))
	for _, f := range catalog {
		out[f.name] = r.Value(f, loc)
	}
	return out
}

// Row renders the catalog fields of r in catalog order.
func (r Record) Row(loc *time.Location) []string {
	row := make([]string, len(catalog))
	for i, f := range catalog {
		row[i] = r.Value(f, loc)
	}
	return row
}

// Header is the column header matching Row.
func Header() []string {
	out := make([]string, len(catalog))
	for i, f := range catalog {
		out[i] = f.name
	}
	return out
}
