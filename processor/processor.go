package processor

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/build/constraint"
	"go/format"
	"go/token"
	"go/types"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jhump/gopoet"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/jhump/annoboot"
)

const generatedHeader = "// Code generated by annoboot. DO NOT EDIT.\n\n"

// OutputFactory is a function that creates a writer to an output for the
// given location. Output factories typically use os.OpenFile to create files
// but this function allows the behavior to be customized.
type OutputFactory func(path string) (io.WriteCloser, error)

// Processor is a function that acts on annotations and is invoked from the
// annotation processor tool. Problems found in source should be added to the
// context's Diagnostics. A returned error aborts processing.
type Processor func(ctx *Context, output OutputFactory) error

// ProcessAll invokes all registered Processor instances to process the
// packages that match the given patterns. If the given outputDir is blank,
// outputs are written next to their sources.
func ProcessAll(ctx context.Context, patterns []string, includeTest bool, outputDir string) error {
	return Process(ctx, patterns, includeTest, outputDir, AllRegisteredProcessors()...)
}

// Process invokes the given processors to process the given packages.
func Process(ctx context.Context, patterns []string, includeTest bool, outputDir string, procs ...Processor) error {
	cfg := Config{
		Patterns:      patterns,
		IncludeTests:  includeTest,
		Processors:    procs,
		OutputFactory: DefaultOutputFactory(outputDir),
	}
	return cfg.Execute(ctx)
}

// DefaultOutputFactory returns the default OutputFactory used by Process and
// ProcessAll. If the given rootDir is blank, outputs are written to the given
// path, which is next to the source they were generated from. Otherwise they
// are written into rootDir, which is created if necessary.
//
// After computing the destination path, os.OpenFile is used to open the file
// for writing (creating the file if necessary, truncating it if it already
// exists).
func DefaultOutputFactory(rootDir string) OutputFactory {
	return func(path string) (io.WriteCloser, error) {
		dest := path
		if rootDir != "" {
			if err := os.MkdirAll(rootDir, os.ModePerm); err != nil {
				return nil, errors.Wrapf(err, "could not create output directory %s", rootDir)
			}
			dest = filepath.Join(rootDir, filepath.Base(path))
		}
		return os.OpenFile(dest, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0666)
	}
}

// Options control how entry points are turned into loaders.
type Options struct {
	// BuildTag is the tag that annotated sources are constrained to. If
	// empty, annoboot.BuildTag is used.
	BuildTag string
	// LogLevel, if not empty, overrides the log level of every entry point.
	LogLevel string
	// RuntimePackage is the import path of the package that generated code
	// runs against. If empty, DefaultRuntimePackage is used.
	RuntimePackage string
	// PackagePath is the import path of the package being processed. It is
	// only used by ProcessFile, which has no other way to learn it. If
	// empty, the package name is used.
	PackagePath string
}

func (o Options) buildTag() string {
	if o.BuildTag == "" {
		return annoboot.BuildTag
	}
	return o.BuildTag
}

// Config represents the configuration for running one or more Processors.
// Callers should configure all of the exported fields and then call the
// Execute method to actually invoke the processors.
type Config struct {
	// Patterns select the packages to process, as understood by "go list".
	Patterns []string
	// Dir is the directory in which patterns are resolved. If empty, the
	// current directory is used.
	Dir          string
	IncludeTests bool
	Options
	// Processors are invoked for each package. If empty, all registered
	// processors are used.
	Processors    []Processor
	OutputFactory OutputFactory
	Logger        *zap.Logger
}

// Execute invokes the configured processors for the configured packages,
// writing outputs using the configured OutputFactory.
//
// Packages are loaded with the build tag set, so that annotated sources are
// included. Diagnostics from all packages are accumulated and returned
// together, as Diagnostics, once every package has been processed.
func (cfg *Config) Execute(ctx context.Context) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	procs := cfg.Processors
	if len(procs) == 0 {
		procs = AllRegisteredProcessors()
	}
	output := cfg.OutputFactory
	if output == nil {
		output = DefaultOutputFactory("")
	}

	fset := token.NewFileSet()
	conf := &packages.Config{
		Context:    ctx,
		Mode:       packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedSyntax,
		Dir:        cfg.Dir,
		Tests:      cfg.IncludeTests,
		BuildFlags: []string{"-tags=" + cfg.buildTag()},
		Fset:       fset,
	}
	pkgs, err := packages.Load(conf, cfg.Patterns...)
	if err != nil {
		return errors.Wrap(err, "failed to load packages")
	}

	var diags Diagnostics
	// test variants of a package repeat its files
	seen := map[string]struct{}{}
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return errors.Errorf("failed to load package %s: %v", pkg.PkgPath, pkg.Errors[0])
		}
		var files []*ast.File
		for _, f := range pkg.Syntax {
			name := fset.Position(f.Package).Filename
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			files = append(files, f)
		}
		if len(files) == 0 {
			continue
		}
		logger.Debug("processing package",
			zap.String("package", pkg.PkgPath),
			zap.Int("files", len(files)))

		pctx := &Context{
			Package: pkg,
			PkgPath: pkg.PkgPath,
			PkgName: pkg.Name,
			Fset:    fset,
			Files:   files,
			Options: cfg.Options,
			Logger:  logger.With(zap.String("package", pkg.PkgPath)),
		}
		for _, proc := range procs {
			if err := proc(pctx, output); err != nil {
				return err
			}
		}
		diags.AppendAll(pctx.Diagnostics)
	}
	return diags.Sorted().ErrOrNil()
}

// Context represents the environment for an annotation processor. It represents
// a single package (for which the processors were invoked).
type Context struct {
	// Package holds the package as loaded by go/packages. It is nil when the
	// context was created by ProcessFile.
	Package *packages.Package
	PkgPath string
	PkgName string
	Fset    *token.FileSet
	// Files are the parsed sources of the package, with comments.
	Files   []*ast.File
	Options Options
	Logger  *zap.Logger

	// Diagnostics collects the problems that processors find in source.
	Diagnostics Diagnostics

	entryPoints []EntryPoint
	computed    bool
	generated   []*Generated
}

// EntryPoint is a function declaration that carries the marker annotation.
type EntryPoint struct {
	File *ast.File
	Decl *ast.FuncDecl
	// Filename is the path of the source file that declares the function.
	Filename string
}

// EntryPoints returns the entry points in the package, in source order.
func (c *Context) EntryPoints() []EntryPoint {
	if c.computed {
		return c.entryPoints
	}
	c.computed = true
	for _, file := range c.Files {
		for _, d := range file.Decls {
			decl, ok := d.(*ast.FuncDecl)
			if !ok || !IsEntryPoint(c.Fset, decl) {
				continue
			}
			c.entryPoints = append(c.entryPoints, EntryPoint{
				File:     file,
				Decl:     decl,
				Filename: c.Fset.Position(file.Package).Filename,
			})
		}
	}
	return c.entryPoints
}

// Generated holds the outputs for one entry point.
type Generated struct {
	Loader *Loader
	// EntryFile is the path of the annotation-free copy of the source.
	EntryFile string
	Entry     []byte
	// LoaderFile is the path of the file with func main and the loader.
	LoaderFile   string
	LoaderSource []byte
}

// GenerateLoaders is the base processor. It generates a loader for the entry
// point of the package. Packages without one are left alone. Problems are
// reported as diagnostics, and an entry point with problems gets no output.
func GenerateLoaders(ctx *Context, output OutputFactory) error {
	eps := ctx.EntryPoints()
	for i, ep := range eps {
		if i > 0 {
			first := ctx.Fset.Position(eps[0].Decl.Name.Pos())
			ctx.Diagnostics.Append(errorf(ErrDuplicateEntryPoint, ctx.Fset.Position(ep.Decl.Name.Pos()),
				"a package can have only one %s function; the first is at %s", MarkerName, first).
				WithHint("Remove the annotation from all but one function"))
			continue
		}
		gen, diags, err := ctx.generate(ep)
		if err != nil {
			return err
		}
		ctx.Diagnostics.AppendAll(diags)
		if gen == nil {
			continue
		}
		if err := writeOutput(output, gen.EntryFile, gen.Entry); err != nil {
			return err
		}
		if err := writeOutput(output, gen.LoaderFile, gen.LoaderSource); err != nil {
			return err
		}
		ctx.Logger.Info("generated loader",
			zap.String("entry", gen.Loader.Ident),
			zap.Int("inputs", len(gen.Loader.Inputs)),
			zap.Stringer("level", gen.Loader.LogLevel),
			zap.String("file", gen.LoaderFile))
	}
	return nil
}

// ProcessFile generates loaders for the entry points in a single parsed file.
// The file must have been parsed with comments. Nothing is written: outputs
// are returned. The returned error, if any, is a Diagnostics.
func ProcessFile(fset *token.FileSet, file *ast.File, opts Options) ([]*Generated, error) {
	pkgPath := opts.PackagePath
	if pkgPath == "" {
		pkgPath = file.Name.Name
	}
	ctx := &Context{
		PkgPath: pkgPath,
		PkgName: file.Name.Name,
		Fset:    fset,
		Files:   []*ast.File{file},
		Options: opts,
		Logger:  zap.NewNop(),
	}
	err := GenerateLoaders(ctx, func(path string) (io.WriteCloser, error) {
		return nopCloser{io.Discard}, nil
	})
	if err != nil {
		return nil, err
	}
	return ctx.generated, ctx.Diagnostics.Sorted().ErrOrNil()
}

func (c *Context) generate(ep EntryPoint) (*Generated, Diagnostics, error) {
	var diags Diagnostics
	pos := c.Fset.Position(ep.Decl.Name.Pos())
	if c.PkgName != "main" {
		diags.Append(errorf(ErrUnsupportedEntryPoint, pos,
			"%s functions must be declared in package main, not %s", MarkerName, c.PkgName))
		return nil, diags, nil
	}
	tag := c.Options.buildTag()
	expr, cerr := checkBuildConstraint(c.Fset, ep.File, tag)
	if cerr != nil {
		diags.Append(cerr)
		return nil, diags, nil
	}

	l, ldiags := NewLoader(c.Fset, ep.File, ep.Decl, c.Options.LogLevel)
	diags.AppendAll(ldiags)
	if l == nil || len(diags) > 0 {
		return nil, diags, nil
	}

	dir := filepath.Dir(ep.Filename)
	base := strings.TrimSuffix(filepath.Base(ep.Filename), ".go")
	gen := &Generated{
		Loader:     l,
		EntryFile:  filepath.Join(dir, base+".entry.go"),
		LoaderFile: filepath.Join(dir, base+".loader.go"),
	}
	inverted := (&constraint.NotExpr{X: expr}).String()

	gf := gopoet.NewGoFile(filepath.Base(gen.LoaderFile), c.PkgPath, c.PkgName)
	err := GenerateLoader(l, gf, GenerateOptions{
		Imports:        NewImportResolver(ep.File),
		RuntimePackage: RuntimePackage(c.Options.RuntimePackage),
		LocalPackage:   gopoet.PackageForGoType(types.NewPackage(c.PkgPath, c.PkgName)),
	})
	switch err := err.(type) {
	case nil:
	case Diagnostics:
		diags.AppendAll(err)
		return nil, diags, nil
	case *ErrorWithPosition:
		diags.Append(err)
		return nil, diags, nil
	default:
		return nil, nil, err
	}

	var buf bytes.Buffer
	writeHeader(&buf, inverted)
	if err := gopoet.WriteGoFile(&buf, gf); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to render loader for %s", l.Ident)
	}
	gen.LoaderSource = buf.Bytes()

	blankUnusedImports(ep.File)
	var entry bytes.Buffer
	writeHeader(&entry, inverted)
	if err := format.Node(&entry, c.Fset, ep.File); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to render %s", gen.EntryFile)
	}
	gen.Entry = entry.Bytes()

	c.generated = append(c.generated, gen)
	return gen, diags, nil
}

// blankUnusedImports turns imports that only annotations referred to into
// blank imports, so that the copy without annotations still compiles. Their
// side effects, like registering drivers, are kept.
func blankUnusedImports(file *ast.File) {
	used := map[string]struct{}{}
	ast.Inspect(file, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				used[id.Name] = struct{}{}
			}
		}
		return true
	})
	for _, spec := range file.Imports {
		if spec.Name != nil && (spec.Name.Name == "_" || spec.Name.Name == ".") {
			continue
		}
		name := ""
		if spec.Name != nil {
			name = spec.Name.Name
		} else if path, err := strconv.Unquote(spec.Path.Value); err == nil {
			name = ImportName(path)
		}
		if _, ok := used[name]; ok || name == "" {
			continue
		}
		if spec.Name == nil {
			spec.Name = &ast.Ident{NamePos: spec.Path.Pos(), Name: "_"}
		} else {
			spec.Name.Name = "_"
		}
	}
}

func writeHeader(buf *bytes.Buffer, buildConstraint string) {
	buf.WriteString(generatedHeader)
	fmt.Fprintf(buf, "//go:build %s\n\n", buildConstraint)
}

// checkBuildConstraint returns the file's build constraint, which must exclude
// the file from builds that do not set the given tag. The constraint lines are
// removed from the file, since the copy of the file gets the inverted
// constraint instead.
func checkBuildConstraint(fset *token.FileSet, file *ast.File, tag string) (constraint.Expr, *ErrorWithPosition) {
	var expr constraint.Expr
	for _, g := range file.Comments {
		if g.Pos() >= file.Package {
			break
		}
		kept := g.List[:0]
		for _, c := range g.List {
			switch {
			case constraint.IsGoBuild(c.Text):
				e, err := constraint.Parse(c.Text)
				if err != nil {
					return nil, NewErrorWithPosition(ErrBuildConstraint, fset.Position(c.Pos()), err)
				}
				expr = e
			case constraint.IsPlusBuild(c.Text):
			default:
				kept = append(kept, c)
			}
		}
		g.List = kept
	}
	removeEmptyComments(file)

	hint := fmt.Sprintf("Add `//go:build %s` to the top of the file, so that regular builds use the generated code", tag)
	if expr == nil {
		return nil, errorf(ErrBuildConstraint, fset.Position(file.Package),
			"source with a %s function must be constrained to the %q build tag", MarkerName, tag).
			WithHint(hint)
	}
	if expr.Eval(func(t string) bool { return t != tag }) {
		return nil, errorf(ErrBuildConstraint, fset.Position(file.Package),
			"build constraint %q does not exclude the file from builds without the %q tag", expr.String(), tag).
			WithHint(hint)
	}
	return expr, nil
}

func writeOutput(output OutputFactory, path string, data []byte) error {
	w, err := output(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	_, err = w.Write(data)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "failed to write %s", path)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
