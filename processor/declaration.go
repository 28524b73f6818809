package processor

import (
	"fmt"
	"go/ast"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/jhump/annoboot"
	"github.com/jhump/annoboot/parser"
)

const (
	addAnnotationHint = "Try adding a config like `// @resources.Postgres`"
	returnTypeHint    = "See the docs for services with first class support"
	serviceDoc        = "https://pkg.go.dev/github.com/jhump/annoboot/runtime#Service"
)

var (
	// MarkerName is how the marker annotation is spelled in comments.
	MarkerName string

	markerOptions map[string]reflect.StructField
)

func init() {
	rt := reflect.TypeOf(annoboot.Main{})
	pkgPath := rt.PkgPath()
	MarkerName = pkgPath[strings.LastIndex(pkgPath, "/")+1:] + "." + rt.Name()

	markerOptions = map[string]reflect.StructField{}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if name := f.Tag.Get("annoboot"); name != "" {
			markerOptions[name] = f
		}
	}
}

// loaderLocals are the identifiers declared in the generated loader's scope.
// Parameters with these names would be shadowed or would shadow them.
var loaderLocals = map[string]struct{}{
	"ctx":             {},
	"factory":         {},
	"resourceTracker": {},
	"logger":          {},
	"logLevel":        {},
	"filterLayer":     {},
	"vars":            {},
	"err":             {},
	"service":         {},
}

// loaderQualifiers are the package names the generated loader always uses.
var loaderQualifiers = map[string]struct{}{
	"context": {},
	"errors":  {},
	"runtime": {},
	"zap":     {},
}

// findMarker returns the marker annotation in the given doc comment, if any.
// A doc comment that cannot be parsed is only an error if it mentions the
// marker, since other tools may use the same syntax.
func findMarker(fset *token.FileSet, doc *ast.CommentGroup) (*extracted, *parser.Annotation, *ErrorWithPosition) {
	ex := extractAnnotations(fset, doc)
	if ex == nil {
		return nil, nil, nil
	}
	annos, err := ex.parse()
	if err != nil {
		if strings.Contains(ex.text.String(), "@"+MarkerName) {
			return ex, nil, err
		}
		return nil, nil, nil
	}
	for i := range annos {
		if annos[i].Type.String() == MarkerName {
			return ex, &annos[i], nil
		}
	}
	return nil, nil, nil
}

// IsEntryPoint returns true if the given function's doc comment carries the
// marker annotation.
func IsEntryPoint(fset *token.FileSet, decl *ast.FuncDecl) bool {
	ex, _, _ := findMarker(fset, decl.Doc)
	return ex != nil
}

// NewLoader builds the model for the given entry point. The logLevel, if not
// empty, overrides the level in the marker annotation.
//
// Annotations are removed from the declaration and from the file's comments
// as a side effect, so the file can be printed again as plain Go.
//
// Problems with individual parameters are accumulated and the offending
// parameters are omitted from the returned model. A model is returned when
// only such problems occur. Problems with the function itself, its results or
// its log level are fatal and no model is returned, though parameters are
// still checked and stripped.
func NewLoader(fset *token.FileSet, file *ast.File, decl *ast.FuncDecl, logLevel string) (*Loader, Diagnostics) {
	var diags Diagnostics
	pos := fset.Position(decl.Name.Pos())

	ex, marker, err := findMarker(fset, decl.Doc)
	if err != nil {
		diags.Append(err)
		return nil, diags
	}
	if ex != nil {
		ex.strip()
		if len(decl.Doc.List) == 0 {
			decl.Doc = nil
		}
		removeEmptyComments(file)
	}

	if decl.Recv != nil {
		diags.Append(errorf(ErrUnsupportedEntryPoint, pos,
			"%s cannot be applied to method %s", MarkerName, decl.Name.Name).
			WithHint("Move the entry point into a top-level function"))
		return nil, diags
	}
	if decl.Name.Name == annoboot.ReservedEntryName {
		diags.Append(errorf(ErrReservedName, pos,
			"%s functions cannot be named `%s`", MarkerName, annoboot.ReservedEntryName))
		return nil, diags
	}
	if decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0 {
		diags.Append(errorf(ErrUnsupportedEntryPoint, pos,
			"%s functions cannot have type parameters", MarkerName))
		return nil, diags
	}

	level, lerr := markerLogLevel(marker, logLevel)
	ret, rerr := checkReturnType(fset, decl)

	// parameters are checked even when the function itself is broken, so a
	// single run reports every problem
	l := &Loader{
		Ident:    decl.Name.Name,
		Return:   ret,
		LogLevel: level,
		Pos:      pos,
	}
	l.Inputs, diags = resolveInputs(fset, file, decl, l)
	removeEmptyComments(file)

	if lerr != nil || rerr != nil {
		if lerr != nil {
			diags.Append(lerr)
		}
		if rerr != nil {
			diags.Append(rerr)
		}
		return nil, diags
	}
	return l, diags
}

// markerLogLevel validates the marker's options and returns the configured
// log level. A non-empty override wins over the marker.
func markerLogLevel(marker *parser.Annotation, override string) (annoboot.LogLevel, *ErrorWithPosition) {
	var values map[string]string
	if marker != nil {
		values = map[string]string{}
		for _, opt := range marker.Options {
			f, ok := markerOptions[opt.Name]
			if !ok {
				return 0, errorf(ErrInvalidArgument, opt.NamePos,
					"unknown option %q for %s", opt.Name, MarkerName).
					WithHint(fmt.Sprintf("Allowed options are: %s", strings.Join(allowedMarkerOptions(), ", ")))
			}
			if _, dup := values[opt.Name]; dup {
				return 0, errorf(ErrInvalidArgument, opt.NamePos, "option %q specified more than once", opt.Name)
			}
			if f.Type.Kind() != reflect.String || !opt.IsStringLiteral() {
				return 0, errorf(ErrInvalidArgument, opt.ValuePos,
					"option %q must be a string literal, got %s", opt.Name, opt.Text)
			}
			s, err := strconv.Unquote(opt.Text)
			if err != nil {
				return 0, NewErrorWithPosition(ErrInvalidArgument, opt.ValuePos, err)
			}
			values[opt.Name] = s
		}
	}

	s := override
	pos := token.Position{}
	if s == "" {
		s = values["log_level"]
		if marker != nil {
			if opt, ok := marker.Options.Lookup("log_level"); ok {
				pos = opt.ValuePos
			} else {
				pos = marker.Pos
			}
		}
	}
	if s == "" {
		return annoboot.DefaultLogLevel, nil
	}
	level, err := annoboot.ParseLogLevel(s)
	if err != nil {
		return 0, NewErrorWithPosition(ErrInvalidLogLevel, pos, err)
	}
	return level, nil
}

func allowedMarkerOptions() []string {
	rt := reflect.TypeOf(annoboot.Main{})
	var names []string
	for i := 0; i < rt.NumField(); i++ {
		if name := rt.Field(i).Tag.Get("annoboot"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// checkReturnType requires the results to be T or (T, error), where T is a
// possibly qualified type name.
func checkReturnType(fset *token.FileSet, decl *ast.FuncDecl) (ReturnType, *ErrorWithPosition) {
	results := decl.Type.Results
	if results == nil || len(results.List) == 0 {
		return ReturnType{}, errorf(ErrMissingReturnType, fset.Position(decl.Name.Pos()),
			"%s functions need to return a service", MarkerName).
			WithHint(returnTypeHint).
			WithDoc(serviceDoc)
	}

	unsupported := func(n ast.Node) *ErrorWithPosition {
		return errorf(ErrUnsupportedReturnType, fset.Position(n.Pos()),
			"%s functions need to return a first class service or (service, error)", MarkerName).
			WithHint(returnTypeHint).
			WithDoc(serviceDoc)
	}

	var types []ast.Expr
	for _, f := range results.List {
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			types = append(types, f.Type)
		}
	}
	if len(types) > 2 {
		return ReturnType{}, unsupported(results)
	}
	var ret ReturnType
	if len(types) == 2 {
		if id, ok := types[1].(*ast.Ident); !ok || id.Name != "error" {
			return ReturnType{}, unsupported(types[1])
		}
		ret.ReturnsError = true
	}
	switch t := types[0].(type) {
	case *ast.Ident:
		if t.Name == "error" {
			return ReturnType{}, unsupported(t)
		}
		ret.Path = parser.Identifier{Name: t.Name, Pos: fset.Position(t.Pos())}
	case *ast.SelectorExpr:
		pkg, ok := t.X.(*ast.Ident)
		if !ok {
			return ReturnType{}, unsupported(t)
		}
		ret.Path = parser.Identifier{PackageAlias: pkg.Name, Name: t.Sel.Name, Pos: fset.Position(t.Pos())}
	default:
		return ReturnType{}, unsupported(t)
	}
	return ret, nil
}

// resolveInputs walks the parameters, consuming their annotations.
func resolveInputs(fset *token.FileSet, file *ast.File, decl *ast.FuncDecl, l *Loader) ([]Input, Diagnostics) {
	var diags Diagnostics
	var inputs []Input
	params := decl.Type.Params
	comments, trailing := paramComments(fset, file, params)
	reserved := reservedNames(file, decl, l)

	// annotations trailing a field do not configure it, but they are still
	// removed from the output
	for _, g := range trailing {
		if ex := extractAnnotations(fset, g); ex != nil {
			ex.strip()
		}
	}

	type gap struct {
		field    *ast.Field
		prevEnd  token.Pos
		stripped token.Pos
		kept     []*ast.CommentGroup
	}
	var gaps []gap

	for i, field := range params.List {
		var exs []*extracted
		for _, g := range comments[i] {
			if ex := extractAnnotations(fset, g); ex != nil {
				exs = append(exs, ex)
			}
		}
		if len(exs) > 0 {
			prevEnd := params.Opening
			if i > 0 {
				prevEnd = params.List[i-1].End()
			}
			var stripped token.Pos
			for _, ex := range exs {
				if p := ex.strip(); !stripped.IsValid() {
					stripped = p
				}
			}
			gaps = append(gaps, gap{field: field, prevEnd: prevEnd, stripped: stripped, kept: comments[i]})
		}

		fieldPos := fset.Position(field.Pos())
		if _, ok := field.Type.(*ast.Ellipsis); ok {
			diags.Append(errorf(ErrUnsupportedParameter, fieldPos, "variadic parameters cannot be provisioned"))
			continue
		}
		if len(field.Names) == 0 {
			diags.Append(errorf(ErrUnsupportedParameter, fieldPos, "resource parameters must be named").
				WithHint("Give the parameter a name, like `db *sqlx.DB`"))
			continue
		}

		if len(exs) == 0 {
			for _, name := range field.Names {
				diags.Append(errorf(ErrMissingResourceAnnotation, fset.Position(name.Pos()),
					"resource needs an annotation configuration").
					WithHint(addAnnotationHint))
			}
			continue
		}
		annos, err := exs[0].parse()
		if err != nil {
			diags.Append(err)
			continue
		}
		builder := &Builder{Path: annos[0].Type, Options: annos[0].Options}
		if builder.Options == nil {
			builder.Options = parser.Options{}
		}

		for _, name := range field.Names {
			namePos := fset.Position(name.Pos())
			if name.Name == "_" {
				diags.Append(errorf(ErrUnsupportedParameter, namePos, "resource parameters cannot be blank").
					WithHint("Give the parameter a name, like `db *sqlx.DB`"))
				continue
			}
			if _, ok := reserved[name.Name]; ok {
				diags.Append(errorf(ErrReservedName, namePos,
					"parameter name %q is reserved for generated code", name.Name).
					WithHint("Rename the parameter"))
				continue
			}
			inputs = append(inputs, Input{Ident: name.Name, Builder: *builder, Pos: namePos})
		}
	}

	// positions are all resolved by now, so names can move
	for _, g := range gaps {
		closeGap(fset, g.field, g.prevEnd, g.stripped, g.kept)
	}

	// a parameter must not shadow a package that any builder refers to
	qualifiers := map[string]struct{}{}
	for _, in := range inputs {
		for _, q := range in.Builder.Qualifiers() {
			qualifiers[q] = struct{}{}
		}
	}
	kept := inputs[:0]
	for _, in := range inputs {
		if _, ok := qualifiers[in.Ident]; ok {
			diags.Append(errorf(ErrReservedName, in.Pos,
				"parameter name %q shadows a package used by a resource annotation", in.Ident).
				WithHint("Rename the parameter"))
			continue
		}
		kept = append(kept, in)
	}
	return kept, diags
}

// reservedNames returns the names that parameters may not use: locals of the
// generated loader, the entry point's own name and every package qualifier
// the loader may refer to.
func reservedNames(file *ast.File, decl *ast.FuncDecl, l *Loader) map[string]struct{} {
	reserved := map[string]struct{}{}
	for n := range loaderLocals {
		reserved[n] = struct{}{}
	}
	for n := range loaderQualifiers {
		reserved[n] = struct{}{}
	}
	reserved[decl.Name.Name] = struct{}{}
	if l.Return.Path.IsQualified() {
		reserved[l.Return.Path.PackageAlias] = struct{}{}
	}
	for _, imp := range NewImportResolver(file).Names() {
		reserved[imp] = struct{}{}
	}
	return reserved
}
