package index

import (
	"fmt"
	"strings"
	"unicode"
)

// Node is a parsed query.
type Node interface {
	node()
}

// MatchAll matches every document ("*:*" or an empty query).
type MatchAll struct{}

// Term matches Value in Field. Prefix terms match values starting with
// Value; an empty prefix matches any value.
type Term struct {
	Field  string
	Value  string
	Phrase bool
	Prefix bool
}

// Range matches Field between Lower and Upper. An empty bound is open.
type Range struct {
	Field        string
	Lower        string
	Upper        string
	IncludeLower bool
	IncludeUpper bool
}

type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

type Clause struct {
	Occur Occur
	Node  Node
}

// Bool combines clauses. Must clauses are all required and MustNot
// clauses excluded. Should clauses only constrain when no Must clause is
// present, in which case at least one must match.
type Bool struct {
	Clauses []Clause
}

func (MatchAll) node() {}
func (Term) node()     {}
func (Range) node()    {}
func (Bool) node()     {}

// QueryError reports a syntax error at a rune offset.
type QueryError struct {
	Pos int
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query syntax error at %d: %s", e.Pos, e.Msg)
}

type conjunction int

const (
	conjNone conjunction = iota
	conjAnd
	conjOr
)

type modifier int

const (
	modNone modifier = iota
	modRequired
	modNot
)

// ParseQuery parses the Lucene classic query syntax subset: bare terms,
// field:value, "phrases", trailing * prefixes, [a TO b] and {a TO b}
// ranges, AND/OR/NOT, && || !, + and - modifiers and parentheses.
// Boosts and fuzziness suffixes are accepted and ignored. ParseQuery keeps
// no state between calls and is safe for concurrent use.
func ParseQuery(text, defaultField string) (Node, error) {
	p := &queryParser{src: []rune(text), field: defaultField}
	p.skipSpace()
	if p.eof() {
		return MatchAll{}, nil
	}
	n, err := p.parseBool(false)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	return n, nil
}

type queryParser struct {
	src   []rune
	pos   int
	field string
}

func (p *queryParser) errorf(format string, args ...interface{}) error {
	return &QueryError{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *queryParser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *queryParser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *queryParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`()[]{}"`, r)
}

// keyword consumes word when it stands alone at the cursor.
func (p *queryParser) keyword(word string) bool {
	w := []rune(word)
	end := p.pos + len(w)
	if end > len(p.src) || string(p.src[p.pos:end]) != word {
		return false
	}
	if end < len(p.src) && !isDelimiter(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *queryParser) operator(op string) bool {
	o := []rune(op)
	end := p.pos + len(o)
	if end > len(p.src) || string(p.src[p.pos:end]) != op {
		return false
	}
	p.pos = end
	return true
}

func (p *queryParser) parseBool(nested bool) (Node, error) {
	var clauses []Clause
	conj := conjNone

	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		if p.peek() == ')' {
			if !nested {
				return nil, p.errorf("unbalanced ')'")
			}
			break
		}

		if p.keyword("AND") || p.operator("&&") {
			conj = conjAnd
			continue
		}
		if p.keyword("OR") || p.operator("||") {
			conj = conjOr
			continue
		}

		mod := modNone
		switch {
		case p.keyword("NOT"), p.operator("!"), p.operator("-"):
			mod = modNot
		case p.operator("+"):
			mod = modRequired
		}
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("missing term after operator")
		}

		n, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = addClause(clauses, conj, mod, n)
		conj = conjNone
	}
	if conj != conjNone {
		return nil, p.errorf("missing term after operator")
	}

	switch {
	case len(clauses) == 0:
		return nil, p.errorf("empty query")
	case len(clauses) == 1 && clauses[0].Occur != MustNot:
		return clauses[0].Node, nil
	default:
		return Bool{Clauses: clauses}, nil
	}
}

// addClause applies the classic parser's conjunction rules with OR as the
// default operator.
func addClause(clauses []Clause, conj conjunction, mod modifier, n Node) []Clause {
	if len(clauses) > 0 && conj == conjAnd {
		last := &clauses[len(clauses)-1]
		if last.Occur != MustNot {
			last.Occur = Must
		}
	}

	occur := Should
	switch {
	case mod == modNot:
		occur = MustNot
	case mod == modRequired, conj == conjAnd:
		occur = Must
	}
	return append(clauses, Clause{Occur: occur, Node: n})
}

func (p *queryParser) parseClause() (Node, error) {
	switch p.peek() {
	case '(':
		return p.parseGroup(p.field)
	case '"':
		return p.parsePhrase(p.field)
	case '[', '{':
		return p.parseRange(p.field)
	}

	start := p.pos
	word, prefix, err := p.readWord(true)
	if err != nil {
		return nil, err
	}
	if p.peek() != ':' {
		if word == "" && !prefix {
			return nil, p.errorf("unexpected %q", p.peek())
		}
		return p.term(p.field, word, prefix), nil
	}

	p.pos++
	field := word
	if field == "" && !prefix {
		p.pos = start
		return nil, p.errorf("missing field name")
	}
	if prefix && field == "" {
		field = "*"
	}
	if p.eof() || unicode.IsSpace(p.peek()) {
		return nil, p.errorf("missing value for field %q", field)
	}

	switch p.peek() {
	case '(':
		return p.parseGroup(field)
	case '"':
		return p.parsePhrase(field)
	case '[', '{':
		return p.parseRange(field)
	}

	value, valuePrefix, err := p.readWord(false)
	if err != nil {
		return nil, err
	}
	if field == "*" && valuePrefix && value == "" {
		return MatchAll{}, nil
	}
	return p.term(field, value, valuePrefix), nil
}

func (p *queryParser) term(field, value string, prefix bool) Node {
	p.skipSuffix()
	return Term{Field: field, Value: value, Prefix: prefix}
}

// skipSuffix drops boost (^2) and fuzzy (~1) suffixes.
func (p *queryParser) skipSuffix() {
	for p.peek() == '^' || p.peek() == '~' {
		p.pos++
		for !p.eof() && !isDelimiter(p.peek()) {
			p.pos++
		}
	}
}

func (p *queryParser) parseGroup(field string) (Node, error) {
	p.pos++
	saved := p.field
	p.field = field
	n, err := p.parseBool(true)
	p.field = saved
	if err != nil {
		return nil, err
	}
	if p.peek() != ')' {
		return nil, p.errorf("missing ')'")
	}
	p.pos++
	p.skipSuffix()
	return n, nil
}

func (p *queryParser) parsePhrase(field string) (Node, error) {
	value, err := p.readQuoted()
	if err != nil {
		return nil, err
	}
	prefix := false
	if p.peek() == '*' {
		prefix = true
		p.pos++
	}
	p.skipSuffix()
	return Term{Field: field, Value: value, Phrase: true, Prefix: prefix}, nil
}

func (p *queryParser) readQuoted() (string, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for !p.eof() {
		r := p.src[p.pos]
		switch {
		case r == '\\' && p.pos+1 < len(p.src):
			b.WriteRune(p.src[p.pos+1])
			p.pos += 2
		case r == '"':
			p.pos++
			return b.String(), nil
		default:
			b.WriteRune(r)
			p.pos++
		}
	}
	p.pos = start
	return "", p.errorf("unterminated phrase")
}

// readWord reads an unquoted term. A trailing unescaped * marks a prefix
// and is not part of the value.
func (p *queryParser) readWord(stopAtColon bool) (string, bool, error) {
	var b strings.Builder
	trailingStar := false
	for !p.eof() {
		r := p.src[p.pos]
		if r == '\\' {
			if p.pos+1 >= len(p.src) {
				return "", false, p.errorf("dangling escape")
			}
			b.WriteRune(p.src[p.pos+1])
			p.pos += 2
			trailingStar = false
			continue
		}
		if isDelimiter(r) || r == '^' || r == '~' || (stopAtColon && r == ':') {
			break
		}
		if r == '*' {
			if trailingStar {
				b.WriteRune('*')
			}
			trailingStar = true
			p.pos++
			continue
		}
		if trailingStar {
			b.WriteRune('*')
			trailingStar = false
		}
		b.WriteRune(r)
		p.pos++
	}
	return b.String(), trailingStar, nil
}

func (p *queryParser) parseRange(field string) (Node, error) {
	includeLower := p.peek() == '['
	p.pos++
	p.skipSpace()

	lower, err := p.readBound()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.keyword("TO") {
		return nil, p.errorf("expected TO in range")
	}
	p.skipSpace()
	upper, err := p.readBound()
	if err != nil {
		return nil, err
	}
	p.skipSpace()

	var includeUpper bool
	switch p.peek() {
	case ']':
		includeUpper = true
	case '}':
		includeUpper = false
	default:
		return nil, p.errorf("unterminated range")
	}
	p.pos++
	p.skipSuffix()

	return Range{
		Field:        field,
		Lower:        lower,
		Upper:        upper,
		IncludeLower: includeLower,
		IncludeUpper: includeUpper,
	}, nil
}

func (p *queryParser) readBound() (string, error) {
	if p.peek() == '"' {
		return p.readQuoted()
	}
	var b strings.Builder
	for !p.eof() {
		r := p.src[p.pos]
		if r == '\\' && p.pos+1 < len(p.src) {
			b.WriteRune(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if unicode.IsSpace(r) || r == ']' || r == '}' {
			break
		}
		b.WriteRune(r)
		p.pos++
	}
	if b.Len() == 0 {
		return "", p.errorf("missing range bound")
	}
	if b.String() == "*" {
		return "", nil
	}
	return b.String(), nil
}
