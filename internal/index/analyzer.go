package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var stopwords = map[string]struct{}{
	"a": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "no": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "s": {}, "such": {}, "t": {}, "that": {}, "the": {},
	"their": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {}, "www": {},
}

// Analyze splits text into search tokens: width folded, lower cased,
// CJK runs emitted as overlapping bigrams, English stopwords dropped.
// The same function feeds the index, query terms and exports.
func Analyze(text string) []string {
	text = strings.ToLower(width.Fold.String(text))

	var (
		tokens []string
		word   []rune
		cjk    []rune
	)
	flushWord := func() {
		if len(word) == 0 {
			return
		}
		w := string(word)
		if _, stop := stopwords[w]; !stop {
			tokens = append(tokens, w)
		}
		word = word[:0]
	}
	flushCJK := func() {
		switch len(cjk) {
		case 0:
			return
		case 1:
			tokens = append(tokens, string(cjk))
		default:
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// AnalyzeJoined is Analyze with the tokens joined by single spaces.
func AnalyzeJoined(text string) string {
	return strings.Join(Analyze(text), " ")
}

func isCJK(r rune) bool {
	return r == 'ー' || unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
