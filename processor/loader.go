package processor

import (
	"go/ast"
	"go/token"

	"github.com/jhump/annoboot"
	"github.com/jhump/annoboot/parser"
)

// Loader describes the bootstrap routine generated for one entry point. It
// is built by NewLoader and consumed by GenerateLoader.
type Loader struct {
	// Ident is the name of the entry-point function.
	Ident string
	// Inputs are the entry point's resource parameters. Their order is both
	// the provisioning order and the order of arguments in the final call.
	Inputs   []Input
	Return   ReturnType
	LogLevel annoboot.LogLevel
	Pos      token.Position
}

// Input is a single resource parameter.
type Input struct {
	// Ident is the parameter name, which is bound to the provisioned value.
	Ident   string
	Builder Builder
	Pos     token.Position
}

// Builder names the resource-builder type for an input and the setters that
// configure it. The type is never resolved: the compiler checks it when the
// generated code is built.
type Builder struct {
	Path    parser.Identifier
	Options parser.Options
}

// ReturnType is the entry point's result. Entry points return either T or
// (T, error).
type ReturnType struct {
	Path         parser.Identifier
	ReturnsError bool
}

// NeedsSecrets returns true if any builder option is a string literal. String
// literals are templates rendered against the secrets map, so the secrets
// only need to be fetched when there is at least one.
func (l *Loader) NeedsSecrets() bool {
	for _, in := range l.Inputs {
		for _, opt := range in.Builder.Options {
			if opt.IsStringLiteral() {
				return true
			}
		}
	}
	return false
}

// ParamNames returns the names of the inputs, in order.
func (l *Loader) ParamNames() []string {
	names := make([]string, len(l.Inputs))
	for i, in := range l.Inputs {
		names[i] = in.Ident
	}
	return names
}

// Qualifiers returns the package names the builder refers to: the qualifier
// of its path and those of any qualified identifiers in option values.
func (b Builder) Qualifiers() []string {
	var quals []string
	seen := map[string]struct{}{}
	add := func(q string) {
		if _, ok := seen[q]; ok || q == "" {
			return
		}
		seen[q] = struct{}{}
		quals = append(quals, q)
	}
	add(b.Path.PackageAlias)
	for _, opt := range b.Options {
		for _, sel := range qualifiedRefs(opt.Value) {
			add(sel.X.(*ast.Ident).Name)
		}
	}
	return quals
}

// qualifiedRefs returns the selector expressions in expr whose operand is a
// bare identifier, in source order. These are the candidates for package
// references, like time.Second.
func qualifiedRefs(expr ast.Expr) []*ast.SelectorExpr {
	var sels []*ast.SelectorExpr
	ast.Inspect(expr, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if _, ok := sel.X.(*ast.Ident); ok {
			sels = append(sels, sel)
			return false
		}
		return true
	})
	return sels
}
