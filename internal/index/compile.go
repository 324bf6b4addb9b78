package index

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"logsift/internal/record"
)

// ErrInvalidQuery wraps query syntax errors and references to unknown or
// hidden fields.
var ErrInvalidQuery = errors.New("invalid query")

const instantLayout = "2006-01-02 15:04:05.000"

// ParseInstant reads a timestamp range bound. Dates are tried first, padded
// to millisecond precision, then epoch milliseconds.
func ParseInstant(text string, zone *time.Location) (int64, error) {
	for _, candidate := range []string{text, text + ".000", text + ":00.000", text + " 00:00:00.000"} {
		if t, err := time.ParseInLocation(instantLayout, candidate, zone); err == nil {
			return t.UnixMilli(), nil
		}
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is neither a date nor epoch millis", ErrInvalidQuery, text)
	}
	return ms, nil
}

type compiler struct {
	zone *time.Location
	args []interface{}
}

// compileQuery turns q into a WHERE clause over the records table.
func compileQuery(q Query) (string, []interface{}, error) {
	field := q.Field
	if field.IsZero() {
		field = record.DefaultField
	}
	zone := q.Zone
	if zone == nil {
		zone = time.Local
	}

	n, err := ParseQuery(q.Text, field.Name())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	c := &compiler{zone: zone}
	where, err := c.node(n)
	if err != nil {
		return "", nil, err
	}
	return where, c.args, nil
}

func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	return "?"
}

func (c *compiler) node(n Node) (string, error) {
	switch n := n.(type) {
	case MatchAll:
		return "1", nil
	case Term:
		return c.term(n)
	case Range:
		return c.rangeOf(n)
	case Bool:
		return c.boolean(n)
	default:
		return "", fmt.Errorf("%w: unsupported node %T", ErrInvalidQuery, n)
	}
}

func (c *compiler) boolean(b Bool) (string, error) {
	var must, should, not []string
	for _, cl := range b.Clauses {
		sql, err := c.node(cl.Node)
		if err != nil {
			return "", err
		}
		switch cl.Occur {
		case Must:
			must = append(must, "("+sql+")")
		case MustNot:
			not = append(not, "NOT ("+sql+")")
		default:
			should = append(should, "("+sql+")")
		}
	}

	var parts []string
	switch {
	case len(must) > 0:
		parts = append(parts, must...)
	case len(should) > 0:
		parts = append(parts, "("+strings.Join(should, " OR ")+")")
	}
	parts = append(parts, not...)
	if len(parts) == 0 {
		return "1", nil
	}
	return strings.Join(parts, " AND "), nil
}

func lookupQueryable(name string) (record.Field, error) {
	f, ok := record.Lookup(name)
	if !ok || !f.Queryable() {
		return record.Field{}, fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, name)
	}
	return f, nil
}

func (c *compiler) localTime() string {
	return c.local(record.TimeLayout)
}

func (c *compiler) localDay() string {
	return c.local(record.DayLayout)
}

// local renders the timestamp column in the query zone, one offset per row.
func (c *compiler) local(layout string) string {
	zone := registerZone(c.zone)
	return fmt.Sprintf("%s(timestamp, %s, %s)", localFormatFunc, c.bind(zone), c.bind(layout))
}

func (c *compiler) prefix(expr, value string) string {
	if value == "" {
		return "1"
	}
	return fmt.Sprintf("substr(%s, 1, %d) = %s", expr, utf8.RuneCountInString(value), c.bind(value))
}

func (c *compiler) term(t Term) (string, error) {
	f, err := lookupQueryable(t.Field)
	if err != nil {
		return "", err
	}

	switch {
	case f == record.Day:
		if t.Prefix {
			return c.prefix(c.localDay(), t.Value), nil
		}
		start, err := time.ParseInLocation(record.DayLayout, t.Value, c.zone)
		if err != nil {
			return "0", nil
		}
		return fmt.Sprintf("timestamp >= %s AND timestamp < %s",
			c.bind(start.UnixMilli()), c.bind(start.AddDate(0, 0, 1).UnixMilli())), nil

	case f == record.Time:
		if t.Prefix {
			return c.prefix(c.localTime(), t.Value), nil
		}
		return c.localTime() + " = " + c.bind(t.Value), nil
	}

	col := f.Name()
	switch f.Kind() {
	case record.KindNumeric:
		if t.Prefix {
			return c.prefix("CAST("+col+" AS TEXT)", t.Value), nil
		}
		v, err := c.numeric(f, t.Value)
		if err != nil {
			return "0", nil
		}
		return col + " = " + c.bind(v), nil

	case record.KindKeyword:
		if t.Prefix {
			return c.prefix(col, t.Value), nil
		}
		return col + " = " + c.bind(t.Value), nil

	default:
		if t.Prefix && t.Value == "" {
			return "1", nil
		}
		tokens := Analyze(t.Value)
		if len(tokens) == 0 {
			return "0", nil
		}
		expr := fmt.Sprintf(`%s : "%s"`, col, strings.Join(tokens, " "))
		if t.Prefix {
			expr += " *"
		}
		return "id IN (SELECT rowid FROM records_fts WHERE records_fts MATCH " + c.bind(expr) + ")", nil
	}
}

func (c *compiler) numeric(f record.Field, text string) (int64, error) {
	if f == record.Timestamp {
		return ParseInstant(text, c.zone)
	}
	return strconv.ParseInt(text, 10, 64)
}

func (c *compiler) rangeOf(r Range) (string, error) {
	f, err := lookupQueryable(r.Field)
	if err != nil {
		return "", err
	}

	var parts []string
	switch {
	case f == record.Day:
		if r.Lower != "" {
			start, err := time.ParseInLocation(record.DayLayout, r.Lower, c.zone)
			if err != nil {
				return "", fmt.Errorf("%w: bad day %q", ErrInvalidQuery, r.Lower)
			}
			if !r.IncludeLower {
				start = start.AddDate(0, 0, 1)
			}
			parts = append(parts, "timestamp >= "+c.bind(start.UnixMilli()))
		}
		if r.Upper != "" {
			end, err := time.ParseInLocation(record.DayLayout, r.Upper, c.zone)
			if err != nil {
				return "", fmt.Errorf("%w: bad day %q", ErrInvalidQuery, r.Upper)
			}
			if r.IncludeUpper {
				end = end.AddDate(0, 0, 1)
			}
			parts = append(parts, "timestamp < "+c.bind(end.UnixMilli()))
		}

	case f.Kind() == record.KindNumeric:
		col := f.Name()
		if r.Lower != "" {
			v, err := c.numeric(f, r.Lower)
			if err != nil {
				return "", fmt.Errorf("%w: bad bound %q", ErrInvalidQuery, r.Lower)
			}
			parts = append(parts, col+lowerOp(r.IncludeLower)+c.bind(v))
		}
		if r.Upper != "" {
			v, err := c.numeric(f, r.Upper)
			if err != nil {
				return "", fmt.Errorf("%w: bad bound %q", ErrInvalidQuery, r.Upper)
			}
			parts = append(parts, col+upperOp(r.IncludeUpper)+c.bind(v))
		}

	default:
		expr := func() string { return f.Name() }
		if f == record.Time {
			expr = c.localTime
		}
		if r.Lower != "" {
			parts = append(parts, expr()+lowerOp(r.IncludeLower)+c.bind(r.Lower))
		}
		if r.Upper != "" {
			parts = append(parts, expr()+upperOp(r.IncludeUpper)+c.bind(r.Upper))
		}
	}

	if len(parts) == 0 {
		return "1", nil
	}
	return strings.Join(parts, " AND "), nil
}

func lowerOp(inclusive bool) string {
	if inclusive {
		return " >= "
	}
	return " > "
}

func upperOp(inclusive bool) string {
	if inclusive {
		return " <= "
	}
	return " < "
}
