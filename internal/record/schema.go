package record

// Kind is the storage and query shape of a field.
type Kind int

const (
	KindNumeric Kind = iota
	KindKeyword
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindKeyword:
		return "keyword"
	case KindText:
		return "text"
	default:
		return "invalid"
	}
}

// Capability is a bit set of what a field supports.
type Capability uint16

const (
	CapSort Capability = 1 << iota
	CapRange
	CapExact
	CapFullText
	CapFacet
	CapStored
	// CapDerived fields are computed from timestamp for a given zone and
	// are never written to the index.
	CapDerived
	// CapHidden fields are not reachable from query strings.
	CapHidden
)

type Field struct {
	name string
	kind Kind
	caps Capability
}

func Numeric(name string, caps Capability) Field {
	return Field{name: name, kind: KindNumeric, caps: caps | CapRange}
}

func Keyword(name string, caps Capability) Field {
	return Field{name: name, kind: KindKeyword, caps: caps | CapExact}
}

func Text(name string, caps Capability) Field {
	return Field{name: name, kind: KindText, caps: caps | CapFullText}
}

// Stored builds a field that is kept with the record but never indexed.
func Stored(name string) Field {
	return Field{name: name, kind: KindKeyword, caps: CapStored | CapHidden}
}

func (f Field) Name() string { return f.name }
func (f Field) Kind() Kind   { return f.kind }

func (f Field) Has(c Capability) bool {
	return f.caps&c == c
}

func (f Field) Queryable() bool {
	return !f.Has(CapHidden)
}

func (f Field) IsZero() bool {
	return f.name == ""
}

var (
	SortKey   = Field{name: "sort", kind: KindNumeric, caps: CapSort | CapHidden}
	Timestamp = Numeric("timestamp", CapSort|CapStored)
	Day       = Keyword("day", CapDerived)
	Time      = Keyword("time", CapDerived)
	Host      = Text("host", CapStored|CapFacet)
	Addr      = Keyword("addr", CapSort|CapStored|CapFacet)
	Port      = Numeric("port", CapStored|CapFacet)
	Facility  = Keyword("facility", CapStored|CapFacet)
	Severity  = Keyword("severity", CapStored|CapFacet)
	Format    = Keyword("format", CapStored|CapFacet)
	Message   = Text("message", CapStored)
	Raw       = Text("raw", CapStored)

	Logged     = Stored("logged")
	App        = Stored("app")
	ProcID     = Stored("procid")
	MsgID      = Stored("msgid")
	StructData = Stored("structured")
)

var catalog = []Field{
	SortKey, Timestamp, Day, Time, Host, Addr, Port,
	Facility, Severity, Format, Message, Raw,
}

var storedOnly = []Field{Logged, App, ProcID, MsgID, StructData}

var byName = func() map[string]Field {
	m := make(map[string]Field, len(catalog)+len(storedOnly))
	for _, f := range catalog {
		m[f.name] = f
	}
	for _, f := range storedOnly {
		m[f.name] = f
	}
	return m
}()

// Catalog returns the indexed fields in their canonical order.
func Catalog() []Field {
	out := make([]Field, len(catalog))
	copy(out, catalog)
	return out
}

// StoredFields returns the fields kept only for display.
func StoredFields() []Field {
	out := make([]Field, len(storedOnly))
	copy(out, storedOnly)
	return out
}

func Lookup(name string) (Field, bool) {
	f, ok := byName[name]
	return f, ok
}

// DefaultField is searched by query terms that name no field.
var DefaultField = Message
