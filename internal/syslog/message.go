package syslog

import (
	"time"
)

type Format string

const (
	FormatLegacy     Format = "rfc3164"
	FormatStructured Format = "rfc5424"
	FormatUnknown    Format = "unknown"
)

// RawPacket is one received datagram.
type RawPacket struct {
	Addr       string
	Port       int
	Data       []byte
	ReceivedAt time.Time
}

// Param is one structured-data key/value pair.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Structured carries the fields only the RFC5424 dialect has.
type Structured struct {
	Version int
	Zone    *time.Location
	App     string
	ProcID  string
	MsgID   string
	Data    []Param
}

// Message is a parsed payload. Structured is set only when Format is
// FormatStructured. Timestamp is zero when the payload carried none that
// could be read.
type Message struct {
	Format      Format
	Priority    int
	HasPriority bool
	Facility    Facility
	Severity    Severity
	Timestamp   time.Time
	Host        string
	Body        string
	Structured  *Structured
}

func newMessage(format Format, priority int) Message {
	return Message{
		Format:      format,
		Priority:    priority,
		HasPriority: true,
		Facility:    FacilityOf(priority),
		Severity:    SeverityOf(priority),
	}
}
