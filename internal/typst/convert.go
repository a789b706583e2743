// Package typst converts LaTeX produced by the recognizer into Typst markup.
// It handles the subset of LaTeX the model emits: inline and display math,
// the common math environments and the usual math commands.
package typst

import (
	"strconv"
	"strings"
	"unicode"
)

// Converter converts LaTeX to Typst. The zero value is ready to use and is
// safe for concurrent use.
type Converter struct{}

func New() *Converter { return &Converter{} }

// Convert translates latex. Malformed input yields a *SyntaxError.
func (c *Converter) Convert(latex string) (string, error) {
	return Convert(latex)
}

// Convert translates latex with a fresh parser.
func Convert(latex string) (string, error) {
	toks, err := Tokenize(latex)
	if err != nil {
		return "", err
	}
	p := &parser{toks: toks}
	out, err := p.text(atEOF, "")
	if err != nil {
		return "", err
	}
	return out, nil
}

// ConvertMath translates the body of a math expression without delimiters.
func ConvertMath(latex string) (string, error) {
	toks, err := Tokenize(latex)
	if err != nil {
		return "", err
	}
	p := &parser{toks: toks}
	body, err := p.mathList(atEOF, "")
	if err != nil {
		return "", err
	}
	return body.flat(), nil
}

type parser struct {
	toks []Token
	pos  int
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) skipSpace() {
	for p.peek().Type == TokenSpace {
		p.pos++
	}
}

type stopFunc func(Token) bool

func atEOF(t Token) bool { return t.Type == TokenEOF }

func isEnd(t Token) bool { return t.is(TokenCommand, "end") }

func isEndGroup(t Token) bool { return t.Type == TokenEndGroup }

// text parses text mode until stop matches the next token, which is left
// unconsumed.
func (p *parser) text(stop stopFunc, open string) (string, error) {
	var b strings.Builder
	for {
		tok := p.peek()
		if stop(tok) {
			return b.String(), nil
		}
		switch tok.Type {
		case TokenEOF:
			if open == "" {
				return "", syntaxErrorf(tok.Pos, "unbalanced braces: missing }")
			}
			return "", syntaxErrorf(tok.Pos, "unterminated %s", open)
		case TokenEndGroup:
			return "", syntaxErrorf(tok.Pos, "unbalanced braces: unexpected }")
		case TokenBeginGroup:
			p.next()
			inner, err := p.text(isEndGroup, "")
			if err != nil {
				return "", err
			}
			p.next()
			b.WriteString(inner)
		case TokenMathShift:
			p.next()
			closing := tok.Value
			body, err := p.mathList(func(t Token) bool { return t.is(TokenMathShift, closing) }, "math opened with "+closing)
			if err != nil {
				return "", err
			}
			p.next()
			b.WriteString(wrapMath(body.flat(), closing == "$$"))
		case TokenNewline:
			p.next()
			b.WriteString("\\\n")
			p.skipSpace()
		case TokenCommand:
			p.next()
			out, err := p.textCommand(tok)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		case TokenSpace:
			p.next()
			b.WriteString(tok.Value)
		default:
			p.next()
			b.WriteString(escapeText(tok.Value))
		}
	}
}

func (p *parser) textCommand(tok Token) (string, error) {
	switch tok.Value {
	case "(", "[":
		closing := ")"
		if tok.Value == "[" {
			closing = "]"
		}
		body, err := p.mathList(func(t Token) bool { return t.is(TokenCommand, closing) }, `math opened with \`+tok.Value)
		if err != nil {
			return "", err
		}
		p.next()
		return wrapMath(body.flat(), tok.Value == "["), nil
	case "begin":
		return p.textEnvironment(tok)
	case "end":
		return "", syntaxErrorf(tok.Pos, `\end without matching \begin`)
	case "textbf":
		inner, err := p.textArg(tok)
		return "*" + inner + "*", err
	case "textit", "emph":
		inner, err := p.textArg(tok)
		return "_" + inner + "_", err
	case "text", "textrm", "textnormal", "mbox", "textup":
		return p.textArg(tok)
	case "%", "&", "#", "_", "$", "{", "}":
		return escapeText(tok.Value), nil
	case " ", ",", ";", ":":
		return " ", nil
	}
	if ignored[tok.Value] {
		return "", nil
	}
	return escapeText(tok.Value), nil
}

func (p *parser) textArg(cmd Token) (string, error) {
	p.skipSpace()
	if p.peek().Type != TokenBeginGroup {
		return "", syntaxErrorf(cmd.Pos, `missing argument for \%s`, cmd.Value)
	}
	p.next()
	inner, err := p.text(isEndGroup, "")
	if err != nil {
		return "", err
	}
	p.next()
	return inner, nil
}

func (p *parser) textEnvironment(begin Token) (string, error) {
	name, err := p.rawArg(begin)
	if err != nil {
		return "", err
	}
	if mathEnvironments[name] || matrixDelims[name] != "" || isRowEnvironment(name) {
		body, err := p.mathEnvironmentBody(begin, name)
		if err != nil {
			return "", err
		}
		return wrapMath(body, true), nil
	}

	inner, err := p.text(isEnd, `\begin{`+name+`}`)
	if err != nil {
		return "", err
	}
	if err := p.expectEnd(begin, name); err != nil {
		return "", err
	}
	return inner, nil
}

// cell is the list of atoms between alignment points.
type cell []string

// rows is math content split at \\ and &.
type rows [][]cell

func (r rows) render(cellSep, rowSep string, item func(string) string) string {
	lines := make([]string, 0, len(r))
	for _, row := range r {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			parts := make([]string, 0, len(c))
			for _, atom := range c {
				parts = append(parts, item(atom))
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		lines = append(lines, strings.Join(cells, cellSep))
	}
	return strings.Join(lines, rowSep)
}

func identity(s string) string { return s }

// argItem keeps separators from splitting a function argument.
func argItem(s string) string {
	switch s {
	case ",", ";":
		return `"` + s + `"`
	}
	return s
}

// flat renders rows as plain math with Typst alignment points and line
// breaks.
func (r rows) flat() string { return r.render(" & ", ` \ `, identity) }

// arg renders rows for use inside a function call.
func (r rows) arg() string { return r.render(" & ", ` \ `, argItem) }

// atoms returns the single cell of r, or nil when r has more than one.
func (r rows) atoms() cell {
	if len(r) != 1 || len(r[0]) != 1 {
		return nil
	}
	return r[0][0]
}

// mathList parses math until stop matches the next token, which is left
// unconsumed. open describes the construct for unterminated input errors.
func (p *parser) mathList(stop stopFunc, open string) (rows, error) {
	var (
		out   rows
		row   []cell
		items cell
	)
	endCell := func() {
		row = append(row, items)
		items = nil
	}
	endRow := func() {
		endCell()
		out = append(out, row)
		row = nil
	}

	for {
		tok := p.peek()
		if stop(tok) {
			break
		}
		switch tok.Type {
		case TokenEOF:
			if open == "" {
				return nil, syntaxErrorf(tok.Pos, "unbalanced braces: missing }")
			}
			return nil, syntaxErrorf(tok.Pos, "unterminated %s", open)
		case TokenEndGroup:
			return nil, syntaxErrorf(tok.Pos, "unbalanced braces: unexpected }")
		case TokenMathShift:
			return nil, syntaxErrorf(tok.Pos, "unexpected %s in math", tok.Value)
		case TokenSpace:
			p.next()
		case TokenAlign:
			p.next()
			endCell()
		case TokenNewline:
			p.next()
			endRow()
		case TokenSuperscript, TokenSubscript:
			p.next()
			arg, err := p.scriptArg(tok)
			if err != nil {
				return nil, err
			}
			base := `""`
			if len(items) > 0 {
				base = items[len(items)-1]
				items = items[:len(items)-1]
			}
			items = append(items, base+tok.Value+arg)
		case TokenChar:
			if tok.Value == "'" {
				p.next()
				if len(items) > 0 {
					items[len(items)-1] += "'"
				} else {
					items = append(items, "'")
				}
				continue
			}
			fallthrough
		default:
			atom, err := p.mathAtom()
			if err != nil {
				return nil, err
			}
			if atom != "" {
				items = append(items, atom)
			}
		}
	}
	endRow()

	// A trailing \\ leaves an empty last row.
	if len(out) > 1 {
		last := out[len(out)-1]
		if len(last) == 1 && len(last[0]) == 0 {
			out = out[:len(out)-1]
		}
	}
	return out, nil
}

// mathAtom parses one atom starting at the next token.
func (p *parser) mathAtom() (string, error) {
	tok := p.next()
	switch tok.Type {
	case TokenLetter:
		return tok.Value, nil
	case TokenDigit:
		var b strings.Builder
		b.WriteString(tok.Value)
		for {
			t := p.peek()
			if t.Type == TokenDigit {
				b.WriteString(p.next().Value)
				continue
			}
			if t.is(TokenChar, ".") && p.pos+1 < len(p.toks) && p.toks[p.pos+1].Type == TokenDigit {
				b.WriteString(p.next().Value)
				continue
			}
			return b.String(), nil
		}
	case TokenChar:
		return mathChar(tok.Value), nil
	case TokenBeginGroup:
		r, err := p.groupBody()
		if err != nil {
			return "", err
		}
		return r.flat(), nil
	case TokenCommand:
		return p.mathCommand(tok)
	case TokenEOF:
		return "", syntaxErrorf(tok.Pos, "unexpected end of input")
	}
	return "", syntaxErrorf(tok.Pos, "unexpected %s", tok.Type)
}

// groupBody parses up to and including the } matching an already consumed {.
func (p *parser) groupBody() (rows, error) {
	r, err := p.mathList(isEndGroup, "")
	if err != nil {
		return nil, err
	}
	p.next()
	return r, nil
}

// mathArg parses a command argument: a braced group or a single token.
func (p *parser) mathArg(cmd Token) (rows, error) {
	p.skipSpace()
	tok := p.peek()
	switch tok.Type {
	case TokenBeginGroup:
		p.next()
		return p.groupBody()
	case TokenLetter, TokenDigit, TokenCommand, TokenChar:
		if tok.Type == TokenCommand && tok.Value == "end" {
			break
		}
		p.next()
		var atom string
		var err error
		switch tok.Type {
		case TokenCommand:
			atom, err = p.mathCommand(tok)
		case TokenChar:
			atom = mathChar(tok.Value)
		default:
			atom = tok.Value
		}
		if err != nil {
			return nil, err
		}
		return rows{{cell{atom}}}, nil
	}
	return nil, syntaxErrorf(tok.Pos, `missing argument for %s`, describe(cmd))
}

func (p *parser) scriptArg(script Token) (string, error) {
	r, err := p.mathArg(script)
	if err != nil {
		return "", err
	}
	s := r.arg()
	if isSimple(s) {
		return s, nil
	}
	return "(" + s + ")", nil
}

// optionalArg parses [..] after a command, returning nil when absent.
func (p *parser) optionalArg() (rows, error) {
	p.skipSpace()
	if !p.peek().is(TokenChar, "[") {
		return nil, nil
	}
	open := p.next()
	r, err := p.mathList(func(t Token) bool { return t.is(TokenChar, "]") }, "optional argument opened at offset "+strconv.Itoa(open.Pos))
	if err != nil {
		return nil, err
	}
	p.next()
	return r, nil
}

// rawArg returns the literal text of a braced argument.
func (p *parser) rawArg(cmd Token) (string, error) {
	p.skipSpace()
	if p.peek().Type != TokenBeginGroup {
		return "", syntaxErrorf(cmd.Pos, `missing argument for %s`, describe(cmd))
	}
	p.next()
	var b strings.Builder
	depth := 0
	for {
		tok := p.next()
		switch tok.Type {
		case TokenEOF:
			return "", syntaxErrorf(tok.Pos, "unbalanced braces: missing }")
		case TokenBeginGroup:
			depth++
			continue
		case TokenEndGroup:
			if depth == 0 {
				return b.String(), nil
			}
			depth--
			continue
		case TokenCommand:
			if len(tok.Value) == 1 && !isASCIILetter(rune(tok.Value[0])) {
				if tok.Value == "," || tok.Value == ";" || tok.Value == ":" {
					b.WriteString(" ")
				} else {
					b.WriteString(tok.Value)
				}
				continue
			}
		case TokenNewline:
			b.WriteString(" ")
			continue
		}
		b.WriteString(tok.Value)
	}
}

func (p *parser) mathCommand(tok Token) (string, error) {
	name := tok.Value
	switch name {
	case "frac", "dfrac", "tfrac", "cfrac":
		return p.call("frac", tok, 2)
	case "binom", "dbinom", "tbinom":
		return p.call("binom", tok, 2)
	case "sqrt":
		index, err := p.optionalArg()
		if err != nil {
			return "", err
		}
		body, err := p.mathArg(tok)
		if err != nil {
			return "", err
		}
		if index != nil {
			return "root(" + index.arg() + ", " + body.arg() + ")", nil
		}
		return "sqrt(" + body.arg() + ")", nil
	case "text", "textrm", "textnormal", "mbox", "hbox", "textup":
		s, err := p.rawArg(tok)
		if err != nil {
			return "", err
		}
		return quote(s), nil
	case "textbf":
		s, err := p.rawArg(tok)
		return "bold(upright(" + quote(s) + "))", err
	case "textit", "emph":
		s, err := p.rawArg(tok)
		return "italic(" + quote(s) + ")", err
	case "operatorname":
		limits := false
		if p.peek().is(TokenChar, "*") {
			p.next()
			limits = true
		}
		s, err := p.rawArg(tok)
		if err != nil {
			return "", err
		}
		if limits {
			return "op(" + quote(strings.TrimSpace(s)) + ", limits: #true)", nil
		}
		return "op(" + quote(strings.TrimSpace(s)) + ")", nil
	case "overset", "stackrel":
		return p.limits(tok, "^")
	case "underset":
		return p.limits(tok, "_")
	case "not":
		r, err := p.mathArg(tok)
		if err != nil {
			return "", err
		}
		switch s := r.flat(); s {
		case "=":
			return "!=", nil
		case "in":
			return "in.not", nil
		default:
			return "cancel(" + r.arg() + ")", nil
		}
	case "begin":
		name, err := p.rawArg(tok)
		if err != nil {
			return "", err
		}
		return p.mathEnvironmentBody(tok, name)
	case "end":
		return "", syntaxErrorf(tok.Pos, `\end without matching \begin`)
	case "label", "tag", "color":
		_, err := p.rawArg(tok)
		return "", err
	case "substack":
		r, err := p.mathArg(tok)
		if err != nil {
			return "", err
		}
		return "(" + r.arg() + ")", nil
	}

	if bigDelimiters[name] {
		return p.delimiter(tok)
	}
	if fn, ok := fonts[name]; ok {
		r, err := p.mathArg(tok)
		if err != nil {
			return "", err
		}
		if word := lettersOnly(r.atoms()); len(word) > 1 {
			return fn + "(" + quote(word) + ")", nil
		}
		return fn + "(" + r.arg() + ")", nil
	}
	if fn, ok := accents[name]; ok {
		r, err := p.mathArg(tok)
		if err != nil {
			return "", err
		}
		return fn + "(" + r.arg() + ")", nil
	}
	if ignored[name] {
		return "", nil
	}
	if operators[name] {
		return name, nil
	}
	if s, ok := symbols[name]; ok {
		return s, nil
	}
	if len(name) == 1 && !isASCIILetter(rune(name[0])) {
		return mathChar(name), nil
	}
	return name, nil
}

// call renders a command with n required arguments as a Typst call.
func (p *parser) call(fn string, cmd Token, n int) (string, error) {
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		r, err := p.mathArg(cmd)
		if err != nil {
			return "", err
		}
		args = append(args, r.arg())
	}
	return fn + "(" + strings.Join(args, ", ") + ")", nil
}

func (p *parser) limits(cmd Token, script string) (string, error) {
	over, err := p.mathArg(cmd)
	if err != nil {
		return "", err
	}
	base, err := p.mathArg(cmd)
	if err != nil {
		return "", err
	}
	return "limits(" + base.arg() + ")" + script + "(" + over.arg() + ")", nil
}

// delimiter renders the delimiter after \left, \right or a sizing command.
func (p *parser) delimiter(cmd Token) (string, error) {
	p.skipSpace()
	tok := p.peek()
	switch tok.Type {
	case TokenChar:
		p.next()
		if tok.Value == "." {
			return "", nil
		}
		return mathChar(tok.Value), nil
	case TokenCommand:
		p.next()
		if s, ok := symbols[tok.Value]; ok {
			return s, nil
		}
		return "", syntaxErrorf(tok.Pos, `unknown delimiter \%s after %s`, tok.Value, describe(cmd))
	}
	return "", syntaxErrorf(cmd.Pos, "missing delimiter after %s", describe(cmd))
}

// mathEnvironmentBody parses an environment after \begin{name} up to and
// including its \end{name}.
func (p *parser) mathEnvironmentBody(begin Token, name string) (string, error) {
	if name == "array" || name == "alignat" || name == "alignat*" {
		// column spec or column count
		if _, err := p.rawArg(begin); err != nil {
			return "", err
		}
	}
	body, err := p.mathList(isEnd, `\begin{`+name+`}`)
	if err != nil {
		return "", err
	}
	if err := p.expectEnd(begin, name); err != nil {
		return "", err
	}

	if delim, ok := matrixDelims[name]; ok {
		return "mat(delim: " + delim + ", " + body.render(", ", "; ", argItem) + ")", nil
	}
	switch name {
	case "cases", "dcases":
		return "cases(" + body.render(" & ", ", ", argItem) + ")", nil
	case "rcases":
		return "cases(reverse: #true, " + body.render(" & ", ", ", argItem) + ")", nil
	}
	return body.flat(), nil
}

func isRowEnvironment(name string) bool {
	switch name {
	case "aligned", "split", "gathered", "cases", "dcases", "rcases":
		return true
	}
	return false
}

func (p *parser) expectEnd(begin Token, name string) error {
	end := p.next()
	if !isEnd(end) {
		return syntaxErrorf(end.Pos, `unterminated \begin{%s}`, name)
	}
	got, err := p.rawArg(end)
	if err != nil {
		return err
	}
	if got != name {
		return syntaxErrorf(end.Pos, `\begin{%s} at offset %d ended by \end{%s}`, name, begin.Pos, got)
	}
	return nil
}

func wrapMath(body string, display bool) string {
	if display {
		return "$ " + body + " $"
	}
	return "$" + body + "$"
}

func mathChar(c string) string {
	switch c {
	case "/":
		return `\/`
	case "#", "$", `"`, "@":
		return `\` + c
	case "~":
		return ""
	}
	return c
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`#`, `\#`,
	`$`, `\$`,
	"`", "\\`",
	`<`, `\<`,
	`>`, `\>`,
	`@`, `\@`,
	`/`, `\/`,
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// isSimple reports whether s can follow ^ or _ without parentheses.
func isSimple(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".")
}

func lettersOnly(atoms cell) string {
	if len(atoms) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range atoms {
		if len([]rune(a)) != 1 || !unicode.IsLetter([]rune(a)[0]) {
			return ""
		}
		b.WriteString(a)
	}
	return b.String()
}

func describe(t Token) string {
	switch t.Type {
	case TokenCommand:
		return `\` + t.Value
	case TokenSuperscript, TokenSubscript:
		return t.Value
	}
	return t.Type.String()
}
