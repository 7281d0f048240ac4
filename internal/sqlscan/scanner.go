// Package sqlscan is a hand-written SQL tokenizer. It is the single lexical
// authority for every layer that inspects SQL text: the validator, the
// normalizer used for candidate dedup, and the repair controller. Nothing in
// this repo pattern-matches raw SQL strings; everything walks tokens so that
// keywords inside string literals, comments and quoted identifiers are never
// mistaken for code.
package sqlscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a single token.
type Kind int

const (
	KindWord Kind = iota // identifier or keyword
	KindNumber
	KindString       // single-quoted literal, '' escapes kept verbatim
	KindQuotedIdent  // double-quoted identifier, "" escapes kept verbatim
	KindDollarString // dollar-quoted literal including its tags
	KindLineComment  // -- to end of line, newline excluded
	KindBlockComment // /* ... */, nesting honored
	KindWhitespace
	KindSymbol       // one operator or punctuation rune
	KindUnterminated // literal or comment that ran off the end of the input
)

// Token is one lexical unit. Concatenating Text over a scan reproduces the
// input byte for byte.
type Token struct {
	Kind Kind
	Text string
	Pos  int // byte offset of the first byte
}

// IsCode reports whether the token participates in SQL semantics
// (everything except whitespace and comments).
func (t Token) IsCode() bool {
	switch t.Kind {
	case KindWhitespace, KindLineComment, KindBlockComment:
		return false
	}
	return true
}

// Scan tokenizes input. It never fails: malformed input yields
// KindUnterminated tokens instead of an error so callers can report the
// offset of the problem.
func Scan(input string) []Token {
	var toks []Token
	i, n := 0, len(input)
	for i < n {
		start := i
		c := input[i]
		switch {
		case c == '-' && i+1 < n && input[i+1] == '-':
			i += 2
			for i < n && input[i] != '\n' {
				i++
			}
			toks = append(toks, Token{KindLineComment, input[start:i], start})

		case c == '/' && i+1 < n && input[i+1] == '*':
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if input[i] == '/' && i+1 < n && input[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if input[i] == '*' && i+1 < n && input[i+1] == '/' {
					depth--
					i += 2
					continue
				}
				i++
			}
			kind := KindBlockComment
			if depth > 0 {
				kind = KindUnterminated
			}
			toks = append(toks, Token{kind, input[start:i], start})

		case c == '\'':
			i, toks = scanQuoted(input, i, '\'', KindString, toks)

		case c == '"':
			i, toks = scanQuoted(input, i, '"', KindQuotedIdent, toks)

		case c == '$':
			if tag, ok := dollarTag(input[i:]); ok {
				body := input[i+len(tag):]
				end := strings.Index(body, tag)
				if end < 0 {
					toks = append(toks, Token{KindUnterminated, input[start:], start})
					i = n
				} else {
					i += len(tag) + end + len(tag)
					toks = append(toks, Token{KindDollarString, input[start:i], start})
				}
			} else if i+1 < n && isDigit(input[i+1]) {
				// positional parameter such as $1
				i++
				for i < n && isDigit(input[i]) {
					i++
				}
				toks = append(toks, Token{KindWord, input[start:i], start})
			} else {
				i++
				toks = append(toks, Token{KindSymbol, input[start:i], start})
			}

		case isSpaceByte(c):
			for i < n && isSpaceByte(input[i]) {
				i++
			}
			toks = append(toks, Token{KindWhitespace, input[start:i], start})

		case isWordStart(input[i:]):
			for i < n {
				r, sz := utf8.DecodeRuneInString(input[i:])
				if !isWordPart(r) {
					break
				}
				i += sz
			}
			toks = append(toks, Token{KindWord, input[start:i], start})

		case isDigit(c):
			for i < n && (isDigit(input[i]) || input[i] == '.') {
				i++
			}
			if i < n && (input[i] == 'e' || input[i] == 'E') {
				j := i + 1
				if j < n && (input[j] == '+' || input[j] == '-') {
					j++
				}
				if j < n && isDigit(input[j]) {
					i = j
					for i < n && isDigit(input[i]) {
						i++
					}
				}
			}
			toks = append(toks, Token{KindNumber, input[start:i], start})

		default:
			_, sz := utf8.DecodeRuneInString(input[i:])
			i += sz
			toks = append(toks, Token{KindSymbol, input[start:i], start})
		}
	}
	return toks
}

// scanQuoted consumes a quoted region starting at input[i] (which holds the
// quote rune). Doubled quotes are the only escape, matching Postgres.
func scanQuoted(input string, i int, quote byte, kind Kind, toks []Token) (int, []Token) {
	start := i
	n := len(input)
	i++
	closed := false
	for i < n {
		if input[i] == quote {
			if i+1 < n && input[i+1] == quote {
				i += 2
				continue
			}
			i++
			closed = true
			break
		}
		i++
	}
	if !closed {
		kind = KindUnterminated
	}
	return i, append(toks, Token{kind, input[start:i], start})
}

// dollarTag returns the opening tag ("$$" or "$name$") when s begins a
// dollar-quoted string.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	if s[1] == '$' {
		return "$$", true
	}
	j := 1
	if !isLetterByte(s[j]) && s[j] != '_' {
		return "", false
	}
	for j < len(s) && (isLetterByte(s[j]) || isDigit(s[j]) || s[j] == '_') {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

// Code filters a scan down to semantic tokens.
func Code(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if t.IsCode() {
			out = append(out, t)
		}
	}
	return out
}

// Statements counts statements: semicolon-separated runs of code tokens.
// A trailing semicolon does not open an empty statement.
func Statements(toks []Token) int {
	count := 0
	open := false
	for _, t := range Code(toks) {
		if t.Kind == KindSymbol && t.Text == ";" {
			open = false
			continue
		}
		if !open {
			count++
			open = true
		}
	}
	return count
}

// Unterminated returns the first unterminated token, if any.
func Unterminated(toks []Token) (Token, bool) {
	for _, t := range toks {
		if t.Kind == KindUnterminated {
			return t, true
		}
	}
	return Token{}, false
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isSpaceByte(c byte) bool  { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' }
func isLetterByte(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isWordStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
