package typst

import (
	"fmt"
	"io"
	"unicode"
)

type TokenType int

const (
	TokenLetter      TokenType = iota // single letter
	TokenDigit                        // single decimal digit
	TokenChar                         // any other single character
	TokenSpace                        // run of whitespace
	TokenCommand                      // \name or \c, Value holds name or c
	TokenBeginGroup                   // '{'
	TokenEndGroup                     // '}'
	TokenSuperscript                  // '^'
	TokenSubscript                    // '_'
	TokenAlign                        // '&'
	TokenNewline                      // '\\'
	TokenMathShift                    // '$' or '$$'
	TokenEOF
)

var tokenNames = [...]string{
	TokenLetter:      "letter",
	TokenDigit:       "digit",
	TokenChar:        "character",
	TokenSpace:       "space",
	TokenCommand:     "command",
	TokenBeginGroup:  "{",
	TokenEndGroup:    "}",
	TokenSuperscript: "^",
	TokenSubscript:   "_",
	TokenAlign:       "&",
	TokenNewline:     `\\`,
	TokenMathShift:   "$",
	TokenEOF:         "end of input",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune offset in the input
}

func (t Token) is(typ TokenType, value string) bool {
	return t.Type == typ && t.Value == value
}

// SyntaxError reports malformed LaTeX.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("latex syntax error at offset %d: %s", e.Pos, e.Msg)
}

func syntaxErrorf(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Scanner splits LaTeX source into tokens. Comments (% to end of line) are
// dropped.
type Scanner struct {
	src []rune
	pos int
}

func NewScanner(src string) *Scanner {
	return &Scanner{src: []rune(src)}
}

func (s *Scanner) Position() int { return s.pos }

// Next returns the next token, or io.EOF at the end of the input.
func (s *Scanner) Next() (Token, error) {
	for s.pos < len(s.src) && s.src[s.pos] == '%' {
		for s.pos < len(s.src) && s.src[s.pos] != '\n' {
			s.pos++
		}
	}
	if s.pos >= len(s.src) {
		return Token{}, io.EOF
	}

	start := s.pos
	c := s.src[s.pos]
	switch {
	case unicode.IsSpace(c):
		for s.pos < len(s.src) && unicode.IsSpace(s.src[s.pos]) {
			s.pos++
		}
		return Token{Type: TokenSpace, Value: string(s.src[start:s.pos]), Pos: start}, nil
	case c == '\\':
		return s.scanCommand()
	case c == '$':
		s.pos++
		if s.pos < len(s.src) && s.src[s.pos] == '$' {
			s.pos++
			return Token{Type: TokenMathShift, Value: "$$", Pos: start}, nil
		}
		return Token{Type: TokenMathShift, Value: "$", Pos: start}, nil
	}

	s.pos++
	tok := Token{Value: string(c), Pos: start}
	switch {
	case c == '{':
		tok.Type = TokenBeginGroup
	case c == '}':
		tok.Type = TokenEndGroup
	case c == '^':
		tok.Type = TokenSuperscript
	case c == '_':
		tok.Type = TokenSubscript
	case c == '&':
		tok.Type = TokenAlign
	case c >= '0' && c <= '9':
		tok.Type = TokenDigit
	case unicode.IsLetter(c):
		tok.Type = TokenLetter
	default:
		tok.Type = TokenChar
	}
	return tok, nil
}

func (s *Scanner) scanCommand() (Token, error) {
	start := s.pos
	s.pos++ // backslash
	if s.pos >= len(s.src) {
		return Token{}, syntaxErrorf(start, "trailing backslash")
	}
	c := s.src[s.pos]
	if c == '\\' {
		s.pos++
		return Token{Type: TokenNewline, Value: `\\`, Pos: start}, nil
	}
	if !isASCIILetter(c) {
		s.pos++
		return Token{Type: TokenCommand, Value: string(c), Pos: start}, nil
	}
	nameStart := s.pos
	for s.pos < len(s.src) && isASCIILetter(s.src[s.pos]) {
		s.pos++
	}
	return Token{Type: TokenCommand, Value: string(s.src[nameStart:s.pos]), Pos: start}, nil
}

func isASCIILetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Tokenize scans all of src. The result always ends with a TokenEOF.
func Tokenize(src string) ([]Token, error) {
	s := NewScanner(src)
	var toks []Token
	for {
		tok, err := s.Next()
		if err == io.EOF {
			return append(toks, Token{Type: TokenEOF, Pos: s.Position()}), nil
		}
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
}
