package parser

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

// Identifier is an AST node that refers to an identifier, possibly qualified
// with a package name/alias. Annotation types and the return types of entry
// points are both identifiers.
type Identifier struct {
	PackageAlias string
	Name         string
	Pos          token.Position
}

func (id Identifier) String() string {
	if id.PackageAlias == "" {
		return id.Name
	} else {
		return fmt.Sprintf("%s.%s", id.PackageAlias, id.Name)
	}
}

// IsQualified returns true if the identifier is qualified with a package
// name/alias.
func (id Identifier) IsQualified() bool {
	return id.PackageAlias != ""
}

// IsExported returns true if the unqualified name starts with an upper-case
// letter.
func (id Identifier) IsExported() bool {
	return token.IsExported(id.Name)
}

// Option is a single "name = value" pair in an annotation's option list.
//
// The value is not evaluated. It is kept both as parsed syntax and as the
// verbatim source text it was parsed from. Positions in Value are relative to
// Text: the node at position p starts at byte offset p-1 of Text.
type Option struct {
	Name     string
	NamePos  token.Position
	Value    ast.Expr
	Text     string
	ValuePos token.Position
}

// IsStringLiteral returns true if the option's value is a string literal
// (interpreted or raw). String literal values are templates that may refer to
// secrets.
func (o Option) IsStringLiteral() bool {
	lit, ok := o.Value.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}

func (o Option) String() string {
	return fmt.Sprintf("%s = %s", o.Name, o.Text)
}

// Options is an ordered list of options. Order is significant: it is the
// order in which setters are invoked.
type Options []Option

// String re-serializes the options, in order, as a parenthesized list.
func (opts Options) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, o := range opts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(o.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Names returns the names of the options, in order.
func (opts Options) Names() []string {
	names := make([]string, len(opts))
	for i := range opts {
		names[i] = opts[i].Name
	}
	return names
}

// Lookup returns the first option with the given name.
func (opts Options) Lookup(name string) (Option, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Annotation is a fully parsed annotation. It identifies the annotation type
// and has an optional list of options. HasOptions distinguishes "@Foo" from
// "@Foo()", though both have an empty list of options.
type Annotation struct {
	Type       Identifier
	Options    Options
	HasOptions bool
	Pos        token.Position
}

func (a Annotation) String() string {
	if !a.HasOptions {
		return "@" + a.Type.String()
	}
	return "@" + a.Type.String() + a.Options.String()
}
