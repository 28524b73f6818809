package processor

import (
	"go/ast"
	"go/types"
	"regexp"
	"strconv"
	"strings"

	"github.com/jhump/gopoet"
)

// DefaultResourcesPackage is the package that the "resources" qualifier
// refers to when the source file does not import a package by that name.
const DefaultResourcesPackage = "github.com/jhump/annoboot/resources"

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// ImportResolver maps the package qualifiers used in a source file to import
// paths. Annotations live in comments, so their qualifiers are never checked
// by the compiler against the file's imports. Blank imports count, keyed by
// their default package name, so a file can import a builder package that it
// otherwise only names in annotations:
//
//    import _ "example.com/builders/mongo"
//
//    // @mongo.Database(name = "app")
type ImportResolver struct {
	byName map[string]string
	names  []string
}

// NewImportResolver returns a resolver for the imports in the given file.
func NewImportResolver(file *ast.File) *ImportResolver {
	r := &ImportResolver{byName: map[string]string{}}
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := ImportName(path)
		if spec.Name != nil && spec.Name.Name != "_" && spec.Name.Name != "." {
			name = spec.Name.Name
		}
		if _, ok := r.byName[name]; ok {
			continue
		}
		r.byName[name] = path
		r.names = append(r.names, name)
	}
	return r
}

// Names returns the package names in scope, in import order.
func (r *ImportResolver) Names() []string {
	return r.names
}

// Resolve returns the import path for the given qualifier.
func (r *ImportResolver) Resolve(name string) (string, bool) {
	if path, ok := r.byName[name]; ok {
		return path, true
	}
	if name == "resources" {
		return DefaultResourcesPackage, true
	}
	return "", false
}

// Package returns the gopoet package for the given qualifier. The package is
// given the qualifier as its name, which is how the source refers to it.
func (r *ImportResolver) Package(name string) (gopoet.Package, bool) {
	path, ok := r.Resolve(name)
	if !ok {
		return gopoet.Package{}, false
	}
	return gopoet.PackageForGoType(types.NewPackage(path, name)), true
}

// ImportName guesses the name of the package at the given import path from
// its last path element, ignoring major version suffixes and common "go-"
// prefixes and "-go" suffixes.
func ImportName(path string) string {
	elems := strings.Split(path, "/")
	name := elems[len(elems)-1]
	if majorVersion.MatchString(name) && len(elems) > 1 {
		name = elems[len(elems)-2]
	}
	// gopkg.in/yaml.v3
	if i := strings.LastIndex(name, ".v"); i > 0 && majorVersion.MatchString(name[i+1:]) {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	name = strings.TrimSuffix(name, "-go")
	name = strings.TrimSuffix(name, ".go")
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return '_'
		}
		return r
	}, name)
}
