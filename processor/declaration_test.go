package processor

import (
	"bytes"
	"go/ast"
	"go/format"
	goparser "go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhump/annoboot"
)

func parseEntryPoint(t *testing.T, src string) (*token.FileSet, *ast.File, *ast.FuncDecl) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, "main.go", dedent.Dedent(src), goparser.ParseComments)
	require.NoError(t, err)
	for _, d := range file.Decls {
		if fn, ok := d.(*ast.FuncDecl); ok {
			return fset, file, fn
		}
	}
	t.Fatal("no function in source")
	return nil, nil, nil
}

func newLoader(t *testing.T, src string, logLevel string) (*Loader, Diagnostics) {
	t.Helper()
	fset, file, decl := parseEntryPoint(t, src)
	return NewLoader(fset, file, decl, logLevel)
}

func TestNewLoader_Simple(t *testing.T) {
	l, diags := newLoader(t, `
		package main

		// @annoboot.Main
		func simple() ShuttleAxum {
			return ShuttleAxum{}
		}
	`, "")
	require.Empty(t, diags)
	require.NotNil(t, l)
	assert.Equal(t, "simple", l.Ident)
	assert.Empty(t, l.Inputs)
	assert.Equal(t, "ShuttleAxum", l.Return.Path.String())
	assert.False(t, l.Return.ReturnsError)
	assert.Equal(t, annoboot.Debug, l.LogLevel)
	assert.False(t, l.NeedsSecrets())
}

func TestNewLoader_Inputs(t *testing.T) {
	l, diags := newLoader(t, `
		package main

		// @annoboot.Main(log_level = "info")
		func app(
			// @resources.Postgres(size = "10Gb", public = false)
			pool *sql.DB,
			/* @Redis */
			cache *redis.Client,
			// @resources.Secrets()
			secrets map[string]string,
		) (runtime.HTTPService, error) {
			return nil, nil
		}
	`, "")
	require.Empty(t, diags)
	require.NotNil(t, l)

	assert.Equal(t, []string{"pool", "cache", "secrets"}, l.ParamNames())
	assert.Equal(t, "resources.Postgres", l.Inputs[0].Builder.Path.String())
	assert.Equal(t, []string{"size", "public"}, l.Inputs[0].Builder.Options.Names())
	assert.Equal(t, `"10Gb"`, l.Inputs[0].Builder.Options[0].Text)
	assert.Equal(t, "false", l.Inputs[0].Builder.Options[1].Text)

	assert.Equal(t, "Redis", l.Inputs[1].Builder.Path.String())
	assert.Empty(t, l.Inputs[1].Builder.Options)
	assert.Empty(t, l.Inputs[2].Builder.Options)

	assert.Equal(t, "runtime.HTTPService", l.Return.Path.String())
	assert.True(t, l.Return.ReturnsError)
	assert.Equal(t, annoboot.Info, l.LogLevel)
	assert.True(t, l.NeedsSecrets())
}

func TestNewLoader_InlineAnnotations(t *testing.T) {
	fset, file, decl := parseEntryPoint(t, `
		package main

		// @annoboot.Main
		func app(/* @resources.Postgres */ db *sql.DB, /* @resources.Redis(database = 1) */ cache *redis.Client) Service {
			return Service{}
		}
	`)
	l, diags := NewLoader(fset, file, decl, "")
	require.Empty(t, diags)
	require.NotNil(t, l)
	assert.Equal(t, []string{"db", "cache"}, l.ParamNames())
	assert.Equal(t, "resources.Postgres", l.Inputs[0].Builder.Path.String())
	assert.Equal(t, "resources.Redis", l.Inputs[1].Builder.Path.String())
	assert.Equal(t, []string{"database"}, l.Inputs[1].Builder.Options.Names())

	var buf bytes.Buffer
	require.NoError(t, format.Node(&buf, fset, file))
	assert.Contains(t, buf.String(), "func app(db *sql.DB, cache *redis.Client) Service {")
}

func TestNewLoader_TrailingAnnotations(t *testing.T) {
	fset, file, decl := parseEntryPoint(t, `
		package main

		// @annoboot.Main
		func app(
			// @resources.Postgres
			db *sql.DB, // @resources.Redis
		) Service {
			return Service{}
		}
	`)
	l, diags := NewLoader(fset, file, decl, "")
	require.Empty(t, diags)
	require.Len(t, l.Inputs, 1)
	assert.Equal(t, "resources.Postgres", l.Inputs[0].Builder.Path.String())

	var buf bytes.Buffer
	require.NoError(t, format.Node(&buf, fset, file))
	assert.NotContains(t, buf.String(), "@resources")
	assert.Contains(t, buf.String(), "func app(\n\tdb *sql.DB,\n) Service {")
}

func TestNewLoader_SharedField(t *testing.T) {
	l, diags := newLoader(t, `
		package main

		// @annoboot.Main
		func app(
			// @resources.Postgres(max_open_conns = 4)
			primary, replica *sql.DB,
		) Service {
			return Service{}
		}
	`, "")
	require.Empty(t, diags)
	assert.Equal(t, []string{"primary", "replica"}, l.ParamNames())
	assert.Equal(t, l.Inputs[0].Builder, l.Inputs[1].Builder)
	assert.False(t, l.NeedsSecrets())
}

func TestNewLoader_StripsAnnotations(t *testing.T) {
	fset, file, decl := parseEntryPoint(t, `
		package main

		// app serves requests.
		//
		// @annoboot.Main(log_level = "warn")
		func app(
			// the primary database
			// @resources.Postgres(
			//     conn_string = "postgres://localhost",
			// )
			db *sql.DB, // trailing comment
		) (Service, error) {
			// body comment
			return Service{}, nil
		}
	`)
	l, diags := NewLoader(fset, file, decl, "")
	require.Empty(t, diags)
	require.Len(t, l.Inputs, 1)
	assert.Equal(t, "conn_string", l.Inputs[0].Builder.Options[0].Name)

	var buf bytes.Buffer
	require.NoError(t, format.Node(&buf, fset, file))
	out := buf.String()
	assert.NotContains(t, out, "@")
	assert.NotContains(t, out, "conn_string")
	assert.Contains(t, out, "// app serves requests.")
	assert.Contains(t, out, "// the primary database")
	assert.Contains(t, out, "// trailing comment")
	assert.Contains(t, out, "// body comment")
	assert.Equal(t, "app serves requests.\n", decl.Doc.Text())
}

func TestNewLoader_LogLevel(t *testing.T) {
	src := `
		package main

		// @annoboot.Main(log_level = "TRACE")
		func app() Service {
			return Service{}
		}
	`
	l, diags := newLoader(t, src, "")
	require.Empty(t, diags)
	assert.Equal(t, annoboot.Trace, l.LogLevel)

	l, diags = newLoader(t, src, "error")
	require.Empty(t, diags)
	assert.Equal(t, annoboot.Error, l.LogLevel)

	l, diags = newLoader(t, src, "loud")
	assert.Nil(t, l)
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrInvalidLogLevel)
}

func TestNewLoader_InvalidMarker(t *testing.T) {
	cases := []struct {
		name   string
		marker string
		kind   Kind
		msg    string
	}{
		{"invalid level", `@annoboot.Main(log_level = "verbose")`, ErrInvalidLogLevel, `invalid log level "verbose"`},
		{"unknown option", `@annoboot.Main(level = "info")`, ErrInvalidArgument, `unknown option "level"`},
		{"not a string", `@annoboot.Main(log_level = 3)`, ErrInvalidArgument, "must be a string literal"},
		{"repeated option", `@annoboot.Main(log_level = "info", log_level = "warn")`, ErrInvalidArgument, "more than once"},
		{"syntax", `@annoboot.Main(log_level "info")`, ErrSyntax, `expecting "="`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, diags := newLoader(t, `
				package main

				// `+tc.marker+`
				func app() Service {
					return Service{}
				}
			`, "")
			assert.Nil(t, l)
			require.Len(t, diags, 1)
			assert.ErrorIs(t, diags[0], tc.kind)
			assert.Contains(t, diags[0].Error(), tc.msg)
			assert.Equal(t, 4, diags[0].Pos().Line)
		})
	}
}

func TestNewLoader_FatalErrors(t *testing.T) {
	cases := []struct {
		name string
		decl string
		kind Kind
		msg  string
	}{
		{"reserved name", "func main() Service", ErrReservedName, "cannot be named `main`"},
		{"method", "func (s *server) app() Service", ErrUnsupportedEntryPoint, "cannot be applied to method app"},
		{"generic", "func app[T any]() Service", ErrUnsupportedEntryPoint, "type parameters"},
		{"no results", "func app()", ErrMissingReturnType, "need to return a service"},
		{"empty results", "func app() ()", ErrMissingReturnType, "need to return a service"},
		{"pointer", "func app() *Service", ErrUnsupportedReturnType, "first class service"},
		{"function", "func app() func()", ErrUnsupportedReturnType, "first class service"},
		{"only error", "func app() error", ErrUnsupportedReturnType, "first class service"},
		{"two services", "func app() (a, b Service)", ErrUnsupportedReturnType, "first class service"},
		{"three results", "func app() (Service, int, error)", ErrUnsupportedReturnType, "first class service"},
		{"generic service", "func app() Service[int]", ErrUnsupportedReturnType, "first class service"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, diags := newLoader(t, `
				package main

				// @annoboot.Main
				`+tc.decl+` {
					panic("unreachable")
				}
			`, "")
			assert.Nil(t, l)
			require.Len(t, diags, 1)
			assert.ErrorIs(t, diags[0], tc.kind)
			assert.Contains(t, diags[0].Error(), tc.msg)
		})
	}
}

func TestNewLoader_ReturnTypeHints(t *testing.T) {
	_, diags := newLoader(t, `
		package main

		// @annoboot.Main
		func app() {
		}
	`, "")
	require.Len(t, diags, 1)
	assert.Equal(t, "See the docs for services with first class support", diags[0].Hint)
	assert.NotEmpty(t, diags[0].Doc)
}

func TestNewLoader_AccumulatesParameterErrors(t *testing.T) {
	l, diags := newLoader(t, `
		package main

		// @annoboot.Main
		func app(
			first *sql.DB,
			// @resources.Postgres
			second *sql.DB,
			// not an annotation
			third *sql.DB,
			// @resources.Redis(db "2")
			fourth *redis.Client,
		) (Service, error) {
			return Service{}, nil
		}
	`, "")
	require.NotNil(t, l, "parameter errors should not prevent building the model")
	assert.Equal(t, []string{"second"}, l.ParamNames())

	require.Len(t, diags, 3)
	assert.ErrorIs(t, diags[0], ErrMissingResourceAnnotation)
	assert.Equal(t, 6, diags[0].Pos().Line)
	assert.Equal(t, "Try adding a config like `// @resources.Postgres`", diags[0].Hint)
	assert.ErrorIs(t, diags[1], ErrMissingResourceAnnotation)
	assert.Equal(t, 10, diags[1].Pos().Line)
	assert.ErrorIs(t, diags[2], ErrSyntax)
	assert.Equal(t, 11, diags[2].Pos().Line)
}

func TestNewLoader_ParameterErrorsWithFatalErrors(t *testing.T) {
	fset, file, decl := parseEntryPoint(t, `
		package main

		// @annoboot.Main(log_level = "chatty")
		func app(
			db *sql.DB,
			// @resources.Redis
			cache *redis.Client,
		) {
		}
	`)
	l, diags := NewLoader(fset, file, decl, "")
	assert.Nil(t, l)
	require.Len(t, diags, 3)
	assert.ErrorIs(t, diags[0], ErrMissingResourceAnnotation)
	assert.Equal(t, 6, diags[0].Pos().Line)
	assert.True(t, diags.Has(ErrInvalidLogLevel))
	assert.True(t, diags.Has(ErrMissingReturnType))

	var buf bytes.Buffer
	require.NoError(t, format.Node(&buf, fset, file))
	assert.NotContains(t, buf.String(), "@resources")
}

func TestNewLoader_SyntaxErrorPosition(t *testing.T) {
	src := "package main\n\n// @annoboot.Main\nfunc app(\n\t// @resources.Postgres(size \"10Gb\")\n\tdb *sql.DB,\n) Service {\n\treturn Service{}\n}\n"
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, "main.go", src, goparser.ParseComments)
	require.NoError(t, err)
	decl := file.Decls[0].(*ast.FuncDecl)

	_, diags := NewLoader(fset, file, decl, "")
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrSyntax)
	pos := diags[0].Pos()
	assert.Equal(t, "main.go", pos.Filename)
	assert.Equal(t, 5, pos.Line)
	line := strings.Split(src, "\n")[4]
	assert.Equal(t, strings.Index(line, `"10Gb"`)+1, pos.Column)
	assert.Equal(t, strings.Index(src, `"10Gb"`), pos.Offset)
}

func TestNewLoader_UnsupportedParameters(t *testing.T) {
	cases := []struct {
		name  string
		param string
		kind  Kind
	}{
		{"variadic", "dbs ...*sql.DB", ErrUnsupportedParameter},
		{"blank", "_ *sql.DB", ErrUnsupportedParameter},
		{"loader local", "ctx *sql.DB", ErrReservedName},
		{"error result", "err *sql.DB", ErrReservedName},
		{"runtime package", "runtime *sql.DB", ErrReservedName},
		{"errors package", "errors *sql.DB", ErrReservedName},
		{"entry point name", "app *sql.DB", ErrReservedName},
		{"imported package", "sql *sql.DB", ErrReservedName},
		{"builder package", "resources *sql.DB", ErrReservedName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, diags := newLoader(t, `
				package main

				import "database/sql"

				// @annoboot.Main
				func app(
					// @resources.Postgres
					`+tc.param+`,
				) Service {
					return Service{}
				}
			`, "")
			require.NotNil(t, l)
			assert.Empty(t, l.Inputs)
			require.Len(t, diags, 1)
			assert.ErrorIs(t, diags[0], tc.kind)
		})
	}
}

func TestNewLoader_UnnamedParameter(t *testing.T) {
	l, diags := newLoader(t, `
		package main

		// @annoboot.Main
		func app(
			// @resources.Postgres
			*sql.DB,
		) Service {
			return Service{}
		}
	`, "")
	require.NotNil(t, l)
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrUnsupportedParameter)
	assert.Contains(t, diags[0].Error(), "must be named")
}

func TestIsEntryPoint(t *testing.T) {
	cases := []struct {
		doc      string
		expected bool
	}{
		{"// @annoboot.Main", true},
		{"// Serves things.\n// @annoboot.Main(log_level = \"info\")", true},
		{"/*\n@annoboot.Main\n*/", true},
		{"// @annoboot.Main(log_level \"info\")", true},
		{"// @other.Annotation", false},
		{"// Mentions annoboot.Main in prose.", false},
		{"// @other.Annotation(broken", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.doc, func(t *testing.T) {
			fset, _, decl := parseEntryPoint(t, "package main\n\n"+tc.doc+"\nfunc app() Service { return Service{} }\n")
			assert.Equal(t, tc.expected, IsEntryPoint(fset, decl))
		})
	}
}
