package syslog

// Facility is the priority/8 part of a syslog priority.
type Facility int

// Severity is the priority%8 part of a syslog priority.
type Severity int

const (
	FacilityUnknown Facility = -1
	SeverityUnknown Severity = -1
)

const unknownName = "unknown"

var facilityNames = [...]string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "logAudit", "logAlert", "clock",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

var severityNames = [...]string{
	"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
}

// MaxPriority is the largest priority whose facility is defined.
const MaxPriority = len(facilityNames)*8 - 1

func FacilityOf(priority int) Facility {
	f := priority / 8
	if priority < 0 || f >= len(facilityNames) {
		return FacilityUnknown
	}
	return Facility(f)
}

func SeverityOf(priority int) Severity {
	if priority < 0 {
		return SeverityUnknown
	}
	return Severity(priority % 8)
}

func (f Facility) String() string {
	if f < 0 || int(f) >= len(facilityNames) {
		return unknownName
	}
	return facilityNames[f]
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return unknownName
	}
	return severityNames[s]
}

// Facilities lists every facility name, "unknown" first.
func Facilities() []string {
	names := make([]string, 0, len(facilityNames)+1)
	names = append(names, unknownName)
	return append(names, facilityNames[:]...)
}

// Severities lists every severity name, "unknown" first.
func Severities() []string {
	names := make([]string, 0, len(severityNames)+1)
	names = append(names, unknownName)
	return append(names, severityNames[:]...)
}
