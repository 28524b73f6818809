package processor

import (
	"fmt"
	"go/ast"
	"go/types"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iancoleman/strcase"
	"github.com/jhump/gopoet"

	"github.com/jhump/annoboot/parser"
)

// DefaultRuntimePackage is the package that generated loaders run against.
const DefaultRuntimePackage = "github.com/jhump/annoboot/runtime"

var (
	contextPkg = gopoet.NewPackage("context")
	errorsPkg  = gopoet.NewPackage("github.com/pkg/errors")
	zapPkg     = gopoet.NewPackage("go.uber.org/zap")
)

// GenerateOptions configure how a loader is rendered.
type GenerateOptions struct {
	// Imports resolves the package qualifiers that appear in the entry
	// point's source file.
	Imports *ImportResolver
	// RuntimePackage provides the types and functions that generated code
	// calls.
	RuntimePackage gopoet.Package
	// LocalPackage is the package of the entry point. Unqualified names in
	// annotations refer to it.
	LocalPackage gopoet.Package
}

// RuntimePackage returns the gopoet package for the given runtime import path.
// An empty path means DefaultRuntimePackage.
func RuntimePackage(path string) gopoet.Package {
	if path == "" {
		path = DefaultRuntimePackage
	}
	return gopoet.PackageForGoType(types.NewPackage(path, "runtime"))
}

// GenerateLoader adds the process entry point, func main, and the bootstrap
// routine, func loader, for the given model to the given file.
//
// The output only depends on the model and options, so generating the same
// loader twice yields identical text.
func GenerateLoader(l *Loader, file *gopoet.GoFile, opts GenerateOptions) error {
	g := &generator{
		loader:  l,
		imports: opts.Imports,
		runtime: opts.RuntimePackage,
		local:   opts.LocalPackage,
		used:    map[string]struct{}{},
	}
	if g.imports == nil {
		g.imports = &ImportResolver{byName: map[string]string{}}
	}
	if g.runtime == (gopoet.Package{}) {
		g.runtime = RuntimePackage("")
	}
	for n := range loaderLocals {
		g.used[n] = struct{}{}
	}
	for n := range loaderQualifiers {
		g.used[n] = struct{}{}
	}
	for _, n := range g.imports.Names() {
		g.used[n] = struct{}{}
	}
	g.used[l.Ident] = struct{}{}
	for _, in := range l.Inputs {
		g.used[in.Ident] = struct{}{}
	}

	mainFunc := gopoet.NewFunc("main")
	mainFunc.Printlnf("%s(loader)", g.runtime.Symbol("Start"))

	loaderFunc, err := g.loaderFunc()
	if err != nil {
		return err
	}

	file.AddElement(mainFunc)
	file.AddElement(loaderFunc)
	return nil
}

type generator struct {
	loader  *Loader
	imports *ImportResolver
	runtime gopoet.Package
	local   gopoet.Package
	// names in scope in the loader, including hoisted locals
	used  map[string]struct{}
	diags Diagnostics
}

func (g *generator) loaderFunc() (*gopoet.FuncSpec, error) {
	l := g.loader
	returnType, err := g.symbol(l.Return.Path)
	if err != nil {
		return nil, err
	}

	factoryName, trackerName := "factory", "resourceTracker"
	if len(l.Inputs) == 0 {
		factoryName, trackerName = "_", "_"
	}
	fn := gopoet.NewFunc("loader").
		AddArg("ctx", gopoet.NamedType(contextPkg.Symbol("Context"))).
		AddArg(factoryName, gopoet.NamedType(g.runtime.Symbol("Factory"))).
		AddArg(trackerName, gopoet.PointerType(gopoet.NamedType(g.runtime.Symbol("ResourceTracker")))).
		AddArg("logger", gopoet.NamedType(g.runtime.Symbol("Logger"))).
		AddResult("service", gopoet.NamedType(returnType)).
		AddResult("err", gopoet.ErrorType)

	g.logging(fn)

	if l.NeedsSecrets() {
		fn.Println("")
		fn.Printlnf("vars, err := %s(factory.GetSecrets(ctx))", g.runtime.Symbol("SecretVars"))
		fn.Println("if err != nil {")
		fn.Printlnf("return service, %s(err, %q)", errorsPkg.Symbol("Wrap"), "failed to get secrets")
		fn.Println("}")
	}

	for _, in := range l.Inputs {
		fn.Println("")
		g.provision(fn, in)
	}
	if len(g.diags) > 0 {
		return nil, g.diags
	}

	fn.Println("")
	call := fmt.Sprintf("%s(%s)", l.Ident, strings.Join(l.ParamNames(), ", "))
	if l.Return.ReturnsError {
		fn.Printlnf("return %s", call)
	} else {
		fn.Printlnf("return %s, nil", call)
	}
	return fn, nil
}

// logging emits the logging setup. The configured level is referenced as is
// and the generated comparison raises it to the debug floor.
func (g *generator) logging(fn *gopoet.FuncSpec) {
	fn.Printlnf("logLevel := %s", g.runtime.Symbol(g.loader.LogLevel.ConstName()))
	fn.Printlnf("if logLevel < %s {", g.runtime.Symbol("DebugLevel"))
	fn.Printlnf("logLevel = %s", g.runtime.Symbol("DebugLevel"))
	fn.Println("}")
	fn.Printlnf("filterLayer := %s().AddDirective(logLevel)", g.runtime.Symbol("NewEnvFilter"))
	fn.Printlnf("%s(%s(filterLayer.Wrap(logger)))", zapPkg.Symbol("ReplaceGlobals"), zapPkg.Symbol("New"))
}

// provision emits the statements that provision a single input: one template
// rendering per string-literal option, then the provisioning call itself.
func (g *generator) provision(fn *gopoet.FuncSpec, in Input) {
	ctor, err := g.constructor(in.Builder.Path)
	if err != nil {
		g.diags.Append(err)
		return
	}
	label := in.Builder.Path.String()

	var setters []interface{}
	var format strings.Builder
	format.WriteString("%s, err := %s(ctx, %s()")
	setters = append(setters, in.Ident, g.runtime.Symbol("GetResource"), ctor)
	for _, opt := range in.Builder.Options {
		setter := SetterName(opt.Name)
		if opt.IsStringLiteral() {
			local := g.uniqueName(in.Ident + setter)
			fn.Printlnf("%s, err := %s(%s, vars)", local, g.runtime.Symbol("Strfmt"), opt.Text)
			g.checkErr(fn, label)
			format.WriteString(".%s(%s)")
			setters = append(setters, setter, local)
			continue
		}
		valueFormat, valueArgs := g.expr(opt)
		format.WriteString(".%s(" + valueFormat + ")")
		setters = append(setters, setter)
		setters = append(setters, valueArgs...)
	}
	format.WriteString(", factory, resourceTracker)")
	fn.Printlnf(format.String(), setters...)
	g.checkErr(fn, label)
}

func (g *generator) checkErr(fn *gopoet.FuncSpec, label string) {
	fn.Println("if err != nil {")
	fn.Printlnf("return service, %s(err, %q, %q)", errorsPkg.Symbol("Wrapf"), "failed to provision %s", label)
	fn.Println("}")
}

// expr returns a format string and arguments that render the option's value.
// Package qualifiers are replaced by gopoet symbols so that the loader file
// imports the packages the value refers to. Other selectors, like fields of
// package-level variables, are kept as written.
func (g *generator) expr(opt parser.Option) (string, []interface{}) {
	var format strings.Builder
	var args []interface{}
	last := 0
	for _, sel := range qualifiedRefs(opt.Value) {
		qual := sel.X.(*ast.Ident).Name
		pkg, ok := g.imports.Package(qual)
		if !ok {
			continue
		}
		// positions in the value are offsets into its text, plus one
		start, end := int(sel.Pos())-1, int(sel.End())-1
		if start > last {
			format.WriteString("%s")
			args = append(args, opt.Text[last:start])
		}
		format.WriteString("%s")
		args = append(args, pkg.Symbol(sel.Sel.Name))
		last = end
	}
	if last < len(opt.Text) {
		format.WriteString("%s")
		args = append(args, opt.Text[last:])
	}
	return format.String(), args
}

// constructor returns the symbol of the function that creates a builder of
// the given type: NewT for an exported T and newT otherwise.
func (g *generator) constructor(path parser.Identifier) (gopoet.Symbol, *ErrorWithPosition) {
	name := ConstructorName(path.Name)
	return g.symbol(parser.Identifier{PackageAlias: path.PackageAlias, Name: name, Pos: path.Pos})
}

func (g *generator) symbol(id parser.Identifier) (gopoet.Symbol, *ErrorWithPosition) {
	if !id.IsQualified() {
		return g.local.Symbol(id.Name), nil
	}
	pkg, ok := g.imports.Package(id.PackageAlias)
	if !ok {
		return gopoet.Symbol{}, errorf(ErrUnknownPackage, id.Pos,
			"package %q is not imported", id.PackageAlias).
			WithHint(fmt.Sprintf("Add an import for it, like `import _ \"example.com/%s\"`", id.PackageAlias))
	}
	return pkg.Symbol(id.Name), nil
}

// uniqueName returns base, or base with a numeric suffix if base is already in
// use, and reserves the result.
func (g *generator) uniqueName(base string) string {
	name := base
	for i := 2; ; i++ {
		if _, ok := g.used[name]; !ok {
			break
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
	g.used[name] = struct{}{}
	return name
}

// SetterName returns the builder method that sets the given option.
// Snake-case names are converted to camel case, like "conn_string" to
// "ConnString". Otherwise only the first letter is upper-cased.
func SetterName(option string) string {
	if strings.Contains(option, "_") {
		return strcase.ToCamel(option)
	}
	return upperFirst(option)
}

// ConstructorName returns the name of the constructor for the named builder
// type.
func ConstructorName(typeName string) string {
	if ast.IsExported(typeName) {
		return "New" + typeName
	}
	return "new" + upperFirst(typeName)
}

func upperFirst(s string) string {
	r, sz := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[sz:]
}
