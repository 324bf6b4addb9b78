package bulk

import (
	"time"

	"logsift/internal/job"
)

type Kind string

const (
	KindExport Kind = "export"
	KindImport Kind = "import"
)

type Format string

const (
	FormatTSV      Format = "TSV"
	FormatSQLite   Format = "SQLite"
	FormatPostgres Format = "PostgreSQL"
)

// Ext is the file extension of the format's artifact.
func (f Format) Ext() string {
	switch f {
	case FormatTSV:
		return "tsv"
	case FormatSQLite:
		return "sqlite3"
	default:
		return ""
	}
}

// Artifact is the file a job reads or writes. Compressed marks gzip staged
// uploads. Path is empty for exports that leave no file behind.
type Artifact struct {
	Path       string
	Compressed bool
}

// PayloadTimeLayout renders job start and finish instants.
const PayloadTimeLayout = "2006-01-02 15:04:05"

// Payload is the JSON form of a job published on the job channel and
// returned by the job list.
type Payload struct {
	Type     Kind          `json:"type"`
	Event    job.Event     `json:"event"`
	ID       string        `json:"id"`
	Start    *string       `json:"start,omitempty"`
	Finish   *string       `json:"finish,omitempty"`
	Format   Format        `json:"format,omitempty"`
	Progress *job.Progress `json:"progress,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func formatInstant(t time.Time, zone *time.Location) *string {
	if t.IsZero() {
		return nil
	}
	s := t.In(zone).Format(PayloadTimeLayout)
	return &s
}
