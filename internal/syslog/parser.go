package syslog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	errNoPriority  = errors.New("priority bracket not found")
	errShortHeader = errors.New("header has too few tokens")
)

// ParseError describes why a payload could not be read as either dialect.
// Parse never returns it; it degrades to FormatUnknown instead.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syslog %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ZoneResolver returns the zone legacy timestamps from addr are written in.
type ZoneResolver func(addr string) *time.Location

type Parser struct {
	zoneFor ZoneResolver
	now     func() time.Time
}

type Option func(*Parser)

func WithZoneResolver(fn ZoneResolver) Option {
	return func(p *Parser) {
		p.zoneFor = fn
	}
}

// WithClock sets the clock used to pick the year of legacy timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		zoneFor: func(string) *time.Location { return time.Local },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse never fails. Payloads that match neither dialect come back as
// FormatUnknown with the source address as host and the raw text as body,
// keeping facility and severity when a priority could be read.
func (p *Parser) Parse(pkt RawPacket) Message {
	text := strings.ToValidUTF8(string(pkt.Data), "�")
	msg, err := p.ParseText(pkt.Addr, text)
	if err == nil {
		return msg
	}

	fallback := Message{
		Format:   FormatUnknown,
		Facility: FacilityUnknown,
		Severity: SeverityUnknown,
		Host:     pkt.Addr,
		Body:     text,
	}
	if priority, _, perr := splitPriority(text); perr == nil {
		fallback.Priority = priority
		fallback.HasPriority = true
		fallback.Facility = FacilityOf(priority)
		fallback.Severity = SeverityOf(priority)
	}
	return fallback
}

// ParseText parses one payload and reports the failure instead of degrading.
func (p *Parser) ParseText(addr, text string) (Message, error) {
	priority, tokens, err := splitPriority(text)
	if err != nil {
		return Message{}, &ParseError{Stage: "priority", Err: err}
	}
	if len(tokens) == 0 {
		return Message{}, &ParseError{Stage: "header", Err: errShortHeader}
	}

	if _, err := strconv.Atoi(tokens[0]); err == nil {
		msg, err := parseStructured(priority, tokens)
		if err != nil {
			return Message{}, &ParseError{Stage: "rfc5424", Err: err}
		}
		return msg, nil
	}

	msg, err := p.parseLegacy(addr, priority, tokens)
	if err != nil {
		return Message{}, &ParseError{Stage: "rfc3164", Err: err}
	}
	return msg, nil
}

func splitPriority(text string) (int, []string, error) {
	start := strings.IndexByte(text, '<')
	end := strings.IndexByte(text, '>')
	if start < 0 || end < start {
		return 0, nil, errNoPriority
	}
	priority, err := strconv.Atoi(text[start+1 : end])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid priority %q: %w", text[start+1:end], err)
	}
	if priority < 0 {
		return 0, nil, fmt.Errorf("negative priority %d", priority)
	}
	return priority, strings.Fields(text[end+1:]), nil
}

// parseLegacy reads "Mmm d HH:MM:SS host body". The wire carries no year,
// so the current year in the sender's configured zone is assumed.
func (p *Parser) parseLegacy(addr string, priority int, tokens []string) (Message, error) {
	if len(tokens) < 4 {
		return Message{}, errShortHeader
	}

	month, ok := months[strings.ToLower(tokens[0])]
	if !ok {
		return Message{}, fmt.Errorf("unknown month %q", tokens[0])
	}
	day, err := strconv.Atoi(tokens[1])
	if err != nil || day < 1 || day > 31 {
		return Message{}, fmt.Errorf("invalid day %q", tokens[1])
	}
	if _, err := time.Parse("15:04:05", tokens[2]); err != nil {
		return Message{}, fmt.Errorf("invalid time %q: %w", tokens[2], err)
	}

	loc := p.zoneFor(addr)
	if loc == nil {
		loc = time.Local
	}
	year := p.now().In(loc).Year()
	stamp := fmt.Sprintf("%04d-%02d-%02d %s", year, int(month), day, tokens[2])
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, loc)
	if err != nil {
		return Message{}, fmt.Errorf("invalid date %q: %w", stamp, err)
	}

	msg := newMessage(FormatLegacy, priority)
	msg.Timestamp = ts
	msg.Host = tokens[3]
	msg.Body = strings.Join(tokens[4:], " ")
	return msg, nil
}

// parseStructured reads "VERSION TIMESTAMP HOST APP PROCID MSGID SD body".
// A nil structured-data block is a single "-" token.
func parseStructured(priority int, tokens []string) (Message, error) {
	if len(tokens) < 7 {
		return Message{}, errShortHeader
	}

	version, err := strconv.Atoi(tokens[0])
	if err != nil {
		return Message{}, fmt.Errorf("invalid version %q: %w", tokens[0], err)
	}
	ts, err := time.Parse(time.RFC3339Nano, tokens[1])
	if err != nil {
		return Message{}, fmt.Errorf("invalid timestamp %q: %w", tokens[1], err)
	}

	msg := newMessage(FormatStructured, priority)
	msg.Timestamp = ts
	msg.Host = tokens[2]
	msg.Structured = &Structured{
		Version: version,
		Zone:    ts.Location(),
		App:     tokens[3],
		ProcID:  tokens[4],
		MsgID:   tokens[5],
		Data:    []Param{},
	}

	i := 6
	if tokens[i] != "-" {
		for ; i < len(tokens); i++ {
			msg.Structured.Data = append(msg.Structured.Data, splitParam(tokens[i]))
			if strings.HasSuffix(tokens[i], "]") {
				break
			}
		}
	}
	if i < len(tokens) {
		i++
	}
	msg.Body = strings.Join(tokens[i:], " ")
	return msg, nil
}

func splitParam(token string) Param {
	token = strings.TrimPrefix(token, "[")
	token = strings.TrimSuffix(token, "]")
	key, value, _ := strings.Cut(token, "=")
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}
	return Param{Key: key, Value: value}
}
