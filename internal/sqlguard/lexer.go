package sqlguard

import (
	"strings"
	"unicode"
)

// tokenType is the coarse token class the classifier needs. Operators and
// punctuation other than parentheses and semicolons collapse into tokenOther.
type tokenType int

const (
	tokenEOF tokenType = iota
	tokenWord
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenSemicolon
	tokenLParen
	tokenRParen
	tokenOther
	tokenUnterminated
)

type token struct {
	Type    tokenType
	Literal string
}

// lexer tokenizes DuckDB SQL just far enough to find statement boundaries and
// leading keywords. Comments, string literals, quoted identifiers and
// dollar-quoted bodies never produce boundaries.
type lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *lexer) nextToken() token {
	if !l.skipWhitespaceAndComments() {
		return token{Type: tokenUnterminated, Literal: "block comment"}
	}
	if l.atEOF() {
		return token{Type: tokenEOF}
	}

	switch l.ch {
	case ';':
		l.readChar()
		return token{Type: tokenSemicolon, Literal: ";"}
	case '(':
		l.readChar()
		return token{Type: tokenLParen, Literal: "("}
	case ')':
		l.readChar()
		return token{Type: tokenRParen, Literal: ")"}
	case '\'':
		s, ok := l.readQuoted('\'', false)
		if !ok {
			return token{Type: tokenUnterminated, Literal: "string literal"}
		}
		return token{Type: tokenString, Literal: s}
	case '"':
		s, ok := l.readQuoted('"', false)
		if !ok {
			return token{Type: tokenUnterminated, Literal: "quoted identifier"}
		}
		return token{Type: tokenQuotedIdent, Literal: s}
	case '$':
		if tag, ok := l.dollarTag(); ok {
			s, ok := l.readDollarQuoted(tag)
			if !ok {
				return token{Type: tokenUnterminated, Literal: "dollar-quoted string"}
			}
			return token{Type: tokenString, Literal: s}
		}
		l.readChar()
		return token{Type: tokenOther, Literal: "$"}
	}

	switch {
	case (l.ch == 'e' || l.ch == 'E') && l.peekChar() == '\'':
		l.readChar()
		s, ok := l.readQuoted('\'', true)
		if !ok {
			return token{Type: tokenUnterminated, Literal: "string literal"}
		}
		return token{Type: tokenString, Literal: s}
	case isLetter(l.ch) || l.ch == '_':
		return token{Type: tokenWord, Literal: l.readIdentifier()}
	case isDigit(l.ch):
		return token{Type: tokenNumber, Literal: l.readNumber()}
	}

	lit := string(l.ch)
	l.readChar()
	return token{Type: tokenOther, Literal: lit}
}

// skipWhitespaceAndComments reports false on an unterminated block comment.
func (l *lexer) skipWhitespaceAndComments() bool {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			depth := 1
			for depth > 0 {
				if l.atEOF() {
					return false
				}
				switch {
				case l.ch == '*' && l.peekChar() == '/':
					depth--
					l.readChar()
				case l.ch == '/' && l.peekChar() == '*':
					depth++
					l.readChar()
				}
				l.readChar()
			}
			continue
		}
		return true
	}
}

// readQuoted reads a literal delimited by quote, with doubled quotes as the
// escape. backslash enables C-style escapes (E'...').
func (l *lexer) readQuoted(quote byte, backslash bool) (string, bool) {
	l.readChar() // opening quote
	var result strings.Builder
	for !l.atEOF() {
		switch {
		case backslash && l.ch == '\\':
			l.readChar()
			if l.atEOF() {
				return "", false
			}
			result.WriteByte(l.ch)
			l.readChar()
		case l.ch == quote && l.peekChar() == quote:
			result.WriteByte(quote)
			l.readChar()
			l.readChar()
		case l.ch == quote:
			l.readChar()
			return result.String(), true
		default:
			result.WriteByte(l.ch)
			l.readChar()
		}
	}
	return "", false
}

// dollarTag reports whether a dollar-quote opener ($$ or $tag$) starts at the
// current position, without consuming it.
func (l *lexer) dollarTag() (string, bool) {
	i := l.pos + 1
	for i < len(l.input) && (isLetter(l.input[i]) || l.input[i] == '_' || (i > l.pos+1 && isDigit(l.input[i]))) {
		i++
	}
	if i < len(l.input) && l.input[i] == '$' {
		return l.input[l.pos : i+1], true
	}
	return "", false
}

func (l *lexer) readDollarQuoted(tag string) (string, bool) {
	start := l.pos + len(tag)
	end := strings.Index(l.input[start:], tag)
	if end < 0 {
		return "", false
	}
	body := l.input[start : start+end]
	l.readPos = start + end + len(tag)
	l.readChar()
	return body, true
}

func (l *lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
