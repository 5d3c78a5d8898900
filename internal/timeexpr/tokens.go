package timeexpr

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokClock // H:MM
)

type token struct {
	kind tokenKind
	text string

	// number / clock values; minute is -1 when the token carries none.
	hour   int
	minute int
}

// tokenize lower-cases text and splits it into words and digit runs.
// "5:30pm" becomes [clock(5:30) word(pm)], "in 2days" becomes
// [word(in) number(2) word(days)]. Everything else separates tokens.
func tokenize(text string) []token {
	rs := []rune(strings.ToLower(text))
	out := make([]token, 0, len(rs)/3+1)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsDigit(r):
			j := i
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			tk := token{kind: tokNumber, text: string(rs[i:j]), minute: -1}
			tk.hour = atoiOr(tk.text, -1)
			// H:MM
			if j < len(rs) && rs[j] == ':' {
				k := j + 1
				for k < len(rs) && unicode.IsDigit(rs[k]) {
					k++
				}
				if k-(j+1) == 2 {
					tk.kind = tokClock
					tk.text = string(rs[i:k])
					tk.minute = atoiOr(string(rs[j+1:k]), -1)
					j = k
				}
			}
			out = append(out, tk)
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			out = append(out, token{kind: tokWord, text: string(rs[i:j])})
			i = j
		default:
			i++
		}
	}
	return out
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (t token) isWord(words ...string) bool {
	if t.kind != tokWord {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}
