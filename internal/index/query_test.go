package index

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "stopwords and case", text: "The Quick fox IS here", want: []string{"quick", "fox", "here"}},
		{name: "punctuation splits", text: "sshd[123]: failed-login", want: []string{"sshd", "123", "failed", "login"}},
		{name: "full width folded", text: "ＥＲＲＯＲ１", want: []string{"error1"}},
		{name: "cjk bigrams", text: "東京都", want: []string{"東京", "京都"}},
		{name: "single cjk", text: "a 猫 b", want: []string{"猫", "b"}},
		{name: "mixed runs", text: "ログabc", want: []string{"ログ", "abc"}},
		{name: "empty", text: " .. ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Analyze(tt.text))
		})
	}
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Node
	}{
		{name: "empty", text: "   ", want: MatchAll{}},
		{name: "match all", text: "*:*", want: MatchAll{}},
		{name: "bare term", text: "error", want: Term{Field: "message", Value: "error"}},
		{name: "field term", text: "severity:err", want: Term{Field: "severity", Value: "err"}},
		{name: "value with colon", text: "time:12:30:00", want: Term{Field: "time", Value: "12:30:00"}},
		{name: "phrase", text: `host:"web 01"`, want: Term{Field: "host", Value: "web 01", Phrase: true}},
		{name: "prefix", text: "addr:10.0.*", want: Term{Field: "addr", Value: "10.0.", Prefix: true}},
		{name: "escaped star", text: `a\*`, want: Term{Field: "message", Value: "a*"}},
		{name: "boost ignored", text: "error^2", want: Term{Field: "message", Value: "error"}},
		{
			name: "inclusive range",
			text: "port:[500 TO 600]",
			want: Range{Field: "port", Lower: "500", Upper: "600", IncludeLower: true, IncludeUpper: true},
		},
		{
			name: "open exclusive range",
			text: `timestamp:{"2024-01-01 10:00" TO *}`,
			want: Range{Field: "timestamp", Lower: "2024-01-01 10:00"},
		},
		{
			name: "default or",
			text: "a b",
			want: Bool{Clauses: []Clause{
				{Occur: Should, Node: Term{Field: "message", Value: "a"}},
				{Occur: Should, Node: Term{Field: "message", Value: "b"}},
			}},
		},
		{
			name: "and makes both required",
			text: "a AND b",
			want: Bool{Clauses: []Clause{
				{Occur: Must, Node: Term{Field: "message", Value: "a"}},
				{Occur: Must, Node: Term{Field: "message", Value: "b"}},
			}},
		},
		{
			name: "not and minus",
			text: "a NOT b -c",
			want: Bool{Clauses: []Clause{
				{Occur: Should, Node: Term{Field: "message", Value: "a"}},
				{Occur: MustNot, Node: Term{Field: "message", Value: "b"}},
				{Occur: MustNot, Node: Term{Field: "message", Value: "c"}},
			}},
		},
		{
			name: "pure negative stays boolean",
			text: "-a",
			want: Bool{Clauses: []Clause{{Occur: MustNot, Node: Term{Field: "message", Value: "a"}}}},
		},
		{
			name: "field group",
			text: "+host:(a || b)",
			want: Bool{Clauses: []Clause{
				{Occur: Should, Node: Term{Field: "host", Value: "a"}},
				{Occur: Should, Node: Term{Field: "host", Value: "b"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuery(tt.text, "message")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	for _, text := range []string{
		`"open`,
		"a)",
		"(a",
		"port:[1 2]",
		"port:[1 TO",
		"a AND",
		"severity: err",
		`a\`,
	} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseQuery(text, "message")
			require.Error(t, err)
			var qe *QueryError
			assert.True(t, errors.As(err, &qe))
		})
	}
}

func TestParseInstant(t *testing.T) {
	zone := time.FixedZone("", 9*60*60)
	want := time.Date(2024, time.May, 1, 10, 20, 0, 0, zone).UnixMilli()

	for _, text := range []string{"2024-05-01 10:20:00.000", "2024-05-01 10:20:00", "2024-05-01 10:20"} {
		got, err := ParseInstant(text, zone)
		require.NoError(t, err, text)
		assert.Equal(t, want, got, text)
	}

	day, err := ParseInstant("2024-05-01", zone)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, zone).UnixMilli(), day)

	ms, err := ParseInstant("1700000000000", zone)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)

	_, err = ParseInstant("yesterday", zone)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestCompileQueryRejectsHiddenFields(t *testing.T) {
	for _, text := range []string{"sort:1", "app:x", "nosuch:1"} {
		_, _, err := compileQuery(Query{Text: text, Zone: time.UTC})
		assert.ErrorIs(t, err, ErrInvalidQuery, text)
	}
}
