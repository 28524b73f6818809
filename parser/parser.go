// Package parser parses the annotations that annoboot reads from comments.
//
// An annotation is an "@" followed by an identifier (optionally qualified with
// a package name) and an optional, parenthesized list of options:
//
//    @resources.Postgres
//    @resources.Postgres(conn_string = "postgres://{secrets.PG_USER}@localhost/app", max_open_conns = 10)
//
// Option values are arbitrary Go expressions. They are parsed, to check that
// they are well-formed, but are never evaluated.
package parser

import (
	"errors"
	"fmt"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	"io"
	"strings"
)

// ParseError describes a syntax error in annotation text. The position is
// relative to the text that was parsed.
type ParseError struct {
	err error
	pos token.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.pos.Line, e.pos.Column, e.err)
}

func (e *ParseError) Underlying() error {
	return e.err
}

func (e *ParseError) Pos() token.Position {
	return e.pos
}

// ParseAnnotations parses all annotations in the given input. Annotations are
// separated by newlines. Input must start with an annotation (after any
// leading blank lines) and contain nothing but annotations.
func ParseAnnotations(filename string, r io.Reader) ([]Annotation, *ParseError) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{err: err, pos: token.Position{Filename: filename}}
	}
	p := newParser(filename, src)
	return p.parseAnnotations()
}

// ParseAnnotation parses exactly one annotation from the given string.
func ParseAnnotation(filename, s string) (Annotation, *ParseError) {
	annos, err := ParseAnnotations(filename, strings.NewReader(s))
	if err != nil {
		return Annotation{}, err
	}
	if len(annos) != 1 {
		return Annotation{}, &ParseError{
			err: fmt.Errorf("expecting exactly one annotation, found %d", len(annos)),
			pos: token.Position{Filename: filename, Line: 1, Column: 1},
		}
	}
	return annos[0], nil
}

// ParseOptions parses a parenthesized option list, such as
// `(size = "10Gb", public = false)`. An empty list, "()", results in empty
// options.
func ParseOptions(filename, src string) (Options, *ParseError) {
	p := newParser(filename, []byte(src))
	t, err := p.nextSkipNewlines()
	if err != nil {
		return nil, err
	}
	if t.tok != token.LPAREN {
		return nil, p.unexpected(t, `"("`)
	}
	opts, err := p.parseOptionList()
	if err != nil {
		return nil, err
	}
	t, err = p.nextSkipNewlines()
	if err != nil {
		return nil, err
	}
	if t.tok != token.EOF {
		return nil, p.errorf(t, "trailing %s after option list", tokenName(t))
	}
	return opts, nil
}

type lexToken struct {
	tok token.Token
	lit string
	pos token.Position
	off int
}

func (t lexToken) isAt() bool {
	return t.tok == token.ILLEGAL && t.lit == "@"
}

func (t lexToken) isNewline() bool {
	// the scanner turns newlines into semicolons after some tokens
	return t.tok == token.SEMICOLON && t.lit == "\n"
}

func tokenName(t lexToken) string {
	switch {
	case t.isAt():
		return `"@"`
	case t.isNewline():
		return "end-of-line"
	}
	switch t.tok {
	case token.EOF:
		return "end-of-input"
	case token.IDENT:
		return fmt.Sprintf("identifier %q", t.lit)
	case token.STRING:
		return "string literal"
	case token.CHAR:
		return "rune literal"
	case token.INT:
		return "int literal"
	case token.FLOAT:
		return "float literal"
	case token.IMAG:
		return "imaginary literal"
	case token.ILLEGAL:
		return fmt.Sprintf("%q", t.lit)
	}
	if t.tok.IsKeyword() {
		return fmt.Sprintf("keyword %q", t.lit)
	}
	return fmt.Sprintf("%q", t.tok.String())
}

type annoLex struct {
	src  []byte
	file *token.File
	s    scanner.Scanner
	err  *ParseError

	peeked *lexToken
}

func newLexer(filename string, src []byte) *annoLex {
	l := &annoLex{src: src}
	fset := token.NewFileSet()
	l.file = fset.AddFile(filename, -1, len(src))
	l.s.Init(l.file, src, l.scanError, 0)
	return l
}

func (l *annoLex) scanError(pos token.Position, msg string) {
	// "@" is not a Go token, but it introduces every annotation
	if pos.Offset < len(l.src) && l.src[pos.Offset] == '@' {
		return
	}
	if l.err == nil {
		l.err = &ParseError{err: errors.New(msg), pos: pos}
	}
}

func (l *annoLex) scan() lexToken {
	p, tok, lit := l.s.Scan()
	return lexToken{tok: tok, lit: lit, pos: l.file.Position(p), off: l.file.Offset(p)}
}

// Lex returns the next token.
func (l *annoLex) Lex() (lexToken, *ParseError) {
	var t lexToken
	if l.peeked != nil {
		t = *l.peeked
		l.peeked = nil
	} else {
		t = l.scan()
	}
	if l.err != nil {
		return t, l.err
	}
	return t, nil
}

// Peek returns the next token without consuming it.
func (l *annoLex) Peek() (lexToken, *ParseError) {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	if l.err != nil {
		return *l.peeked, l.err
	}
	return *l.peeked, nil
}

type annoParser struct {
	l *annoLex
}

func newParser(filename string, src []byte) *annoParser {
	return &annoParser{l: newLexer(filename, src)}
}

func (p *annoParser) next() (lexToken, *ParseError) {
	return p.l.Lex()
}

func (p *annoParser) nextSkipNewlines() (lexToken, *ParseError) {
	for {
		t, err := p.l.Lex()
		if err != nil || !t.isNewline() {
			return t, err
		}
	}
}

func (p *annoParser) errorf(t lexToken, format string, args ...interface{}) *ParseError {
	return &ParseError{err: fmt.Errorf(format, args...), pos: t.pos}
}

func (p *annoParser) unexpected(t lexToken, expected string) *ParseError {
	return p.errorf(t, "syntax error: unexpected %s, expecting %s", tokenName(t), expected)
}

func (p *annoParser) parseAnnotations() ([]Annotation, *ParseError) {
	var res []Annotation
	for {
		t, err := p.nextSkipNewlines()
		if err != nil {
			return nil, err
		}
		if t.tok == token.EOF {
			return res, nil
		}
		if !t.isAt() {
			return nil, p.unexpected(t, `"@"`)
		}
		a, err := p.parseAnnotation(t)
		if err != nil {
			return nil, err
		}
		res = append(res, a)

		t, err = p.next()
		if err != nil {
			return nil, err
		}
		if t.tok == token.EOF {
			return res, nil
		}
		if !t.isNewline() {
			return nil, p.unexpected(t, "end-of-line")
		}
	}
}

func (p *annoParser) parseAnnotation(at lexToken) (Annotation, *ParseError) {
	id, err := p.parseIdentifier()
	if err != nil {
		return Annotation{}, err
	}
	a := Annotation{Type: id, Pos: at.pos}
	t, err := p.l.Peek()
	if err != nil {
		return Annotation{}, err
	}
	if t.tok == token.LPAREN {
		p.next() // consume it
		a.HasOptions = true
		if a.Options, err = p.parseOptionList(); err != nil {
			return Annotation{}, err
		}
	}
	return a, nil
}

func (p *annoParser) parseIdentifier() (Identifier, *ParseError) {
	t, err := p.next()
	if err != nil {
		return Identifier{}, err
	}
	if t.tok != token.IDENT {
		return Identifier{}, p.unexpected(t, "identifier")
	}
	id := Identifier{Name: t.lit, Pos: t.pos}

	t, err = p.l.Peek()
	if err != nil {
		return Identifier{}, err
	}
	if t.tok != token.PERIOD {
		return id, nil
	}
	p.next() // consume it
	t, err = p.next()
	if err != nil {
		return Identifier{}, err
	}
	if t.tok != token.IDENT {
		return Identifier{}, p.unexpected(t, "identifier")
	}
	id.PackageAlias = id.Name
	id.Name = t.lit

	t, err = p.l.Peek()
	if err != nil {
		return Identifier{}, err
	}
	if t.tok == token.PERIOD {
		return Identifier{}, p.errorf(t, "annotation type %s must be an identifier or a qualified identifier", id)
	}
	return id, nil
}

// parseOptionList parses options up to and including the closing paren. The
// opening paren has already been consumed.
func (p *annoParser) parseOptionList() (Options, *ParseError) {
	opts := Options{}
	for {
		t, err := p.nextSkipNewlines()
		if err != nil {
			return nil, err
		}
		if t.tok == token.RPAREN {
			return opts, nil
		}
		if t.tok != token.IDENT {
			return nil, p.unexpected(t, `option name or ")"`)
		}
		opt := Option{Name: t.lit, NamePos: t.pos}

		eq, err := p.nextSkipNewlines()
		if err != nil {
			return nil, err
		}
		if eq.tok != token.ASSIGN {
			return nil, p.unexpected(eq, `"="`)
		}

		term, err := p.parseValue(&opt)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
		if term.tok == token.RPAREN {
			return opts, nil
		}
	}
}

// parseValue consumes the tokens of an option's value, up to and including the
// comma or closing paren that terminates it, and returns that terminator.
func (p *annoParser) parseValue(opt *Option) (lexToken, *ParseError) {
	var first lexToken
	start := -1
	// closers expected for the brackets opened so far
	var closers []token.Token
	var term lexToken
loop:
	for {
		t, err := p.next()
		if err != nil {
			return t, err
		}
		switch t.tok {
		case token.SEMICOLON:
			if t.isNewline() {
				continue
			}
		case token.EOF:
			return t, p.unexpected(t, `"," or ")"`)
		case token.COMMA:
			if len(closers) == 0 {
				term = t
				break loop
			}
		case token.LPAREN:
			closers = append(closers, token.RPAREN)
		case token.LBRACK:
			closers = append(closers, token.RBRACK)
		case token.LBRACE:
			closers = append(closers, token.RBRACE)
		case token.RPAREN, token.RBRACK, token.RBRACE:
			if len(closers) == 0 {
				if t.tok == token.RPAREN {
					term = t
					break loop
				}
				return t, p.unexpected(t, `"," or ")"`)
			}
			if expected := closers[len(closers)-1]; expected != t.tok {
				return t, p.unexpected(t, fmt.Sprintf("%q", expected.String()))
			}
			closers = closers[:len(closers)-1]
		}
		if start < 0 {
			start = t.off
			first = t
		}
	}

	if start < 0 {
		return term, p.errorf(term, "missing value for option %q", opt.Name)
	}
	text := strings.TrimSpace(string(p.l.src[start:term.off]))
	expr, err := goparser.ParseExprFrom(token.NewFileSet(), "", text, 0)
	if err != nil {
		return term, p.errorf(first, "invalid value for option %q: %v", opt.Name, err)
	}
	opt.Value = expr
	opt.Text = text
	opt.ValuePos = first.pos
	return term, nil
}
