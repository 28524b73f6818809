package parser

import (
	"go/ast"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotations(t *testing.T) {
	var input = `
@NoValue
@pkg.Qualified
@Empty()
@Options(string = "string_val", boolean = true, integer = 5, float = 2.65)
@Multiline(
	enum_variant = SomeEnum.Variant1,
	sensitive = "user:{secrets.password}",
	composite = Config{Name: "foo", Sizes: []int{1, 2}},
)
`

	annos, err := ParseAnnotations("foo", strings.NewReader(input))
	require.Nil(t, err)
	require.Len(t, annos, 5)

	assert.Equal(t, "NoValue", annos[0].Type.String())
	assert.False(t, annos[0].HasOptions)
	assert.Empty(t, annos[0].Options)

	assert.Equal(t, "pkg", annos[1].Type.PackageAlias)
	assert.Equal(t, "Qualified", annos[1].Type.Name)
	assert.True(t, annos[1].Type.IsQualified())

	assert.True(t, annos[2].HasOptions)
	assert.Empty(t, annos[2].Options)

	assert.Equal(t, []string{"string", "boolean", "integer", "float"}, annos[3].Options.Names())
	assert.Equal(t, []string{"enum_variant", "sensitive", "composite"}, annos[4].Options.Names())
	assert.Equal(t, `Config{Name: "foo", Sizes: []int{1, 2}}`, annos[4].Options[2].Text)
	assert.Equal(t, 6, annos[4].Pos.Line)
	assert.Equal(t, 8, annos[4].Options[1].NamePos.Line)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("foo", `(
		string = "string_val",
		boolean = true,
		integer = 5,
		float = 2.65,
		enum_variant = SomeEnum.Variant1,
		sensitive = "user:{secrets.password}"
	)`)
	require.Nil(t, err)

	expected := []struct {
		name, text string
		isString   bool
	}{
		{"string", `"string_val"`, true},
		{"boolean", "true", false},
		{"integer", "5", false},
		{"float", "2.65", false},
		{"enum_variant", "SomeEnum.Variant1", false},
		{"sensitive", `"user:{secrets.password}"`, true},
	}
	require.Len(t, opts, len(expected))
	for i, exp := range expected {
		assert.Equal(t, exp.name, opts[i].Name)
		assert.Equal(t, exp.text, opts[i].Text)
		assert.Equal(t, exp.isString, opts[i].IsStringLiteral(), "option %s", exp.name)
	}

	_, ok := opts[4].Value.(*ast.SelectorExpr)
	assert.True(t, ok, "enum variant should parse as a selector")
}

func TestParseOptions_Empty(t *testing.T) {
	opts, err := ParseOptions("foo", "()")
	require.Nil(t, err)
	assert.NotNil(t, opts)
	assert.Empty(t, opts)
	assert.Equal(t, "()", opts.String())
}

func TestParseOptions_RoundTrip(t *testing.T) {
	inputs := []string{
		`(size = "10Gb", public = false)`,
		`(a = 1, b = -2.5, c = 'x', d = ` + "`raw {secrets.x}`" + `)`,
		`(call = time.Duration(5) * time.Second, nested = map[string]int{"a": 1, "b": 2})`,
		`(only = pkg.Value)`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			opts, err := ParseOptions("foo", in)
			require.Nil(t, err)
			assert.Equal(t, in, opts.String())

			again, err := ParseOptions("foo", opts.String())
			require.Nil(t, err)
			assert.Equal(t, opts.Names(), again.Names())
			for i := range opts {
				assert.Equal(t, opts[i].Text, again[i].Text)
			}
		})
	}
}

func TestParseOptions_TrailingComma(t *testing.T) {
	opts, err := ParseOptions("foo", "(a = 1, b = 2,)")
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, opts.Names())
}

func TestParseOptions_ValuePositions(t *testing.T) {
	opts, err := ParseOptions("foo", `(size = pkg.Large)`)
	require.Nil(t, err)
	sel := opts[0].Value.(*ast.SelectorExpr)
	// positions in Value are relative to Text
	assert.Equal(t, 0, int(sel.Pos())-1)
	assert.Equal(t, len(opts[0].Text), int(sel.End())-1)
	assert.Equal(t, token.Position{Filename: "foo", Offset: 8, Line: 1, Column: 9}, opts[0].ValuePos)
}

func TestParseOptions_Errors(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		msg    string
		column int
	}{
		{"missing equals", `(size "10Gb")`, `unexpected string literal, expecting "="`, 7},
		{"equality instead of assignment", `(size == "10Gb")`, `unexpected "==", expecting "="`, 7},
		{"missing delimiter", `(size = "10Gb"`, `unexpected end-of-input, expecting "," or ")"`, 15},
		{"missing value", `(size = , public = false)`, `missing value for option "size"`, 9},
		{"trailing tokens", `(size = "10Gb") extra`, `trailing identifier "extra" after option list`, 17},
		{"not a name", `("size" = 1)`, `unexpected string literal, expecting option name or ")"`, 2},
		{"bad expression", `(size = 1 +)`, `invalid value for option "size"`, 9},
		{"unbalanced", `(size = f(1]))`, `unexpected "]", expecting ")"`, 12},
		{"no parens", `size = 1`, `unexpected identifier "size", expecting "("`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOptions("foo", tc.input)
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), tc.msg)
			assert.Equal(t, 1, err.Pos().Line)
			assert.Equal(t, tc.column, err.Pos().Column)
		})
	}
}

func TestParseAnnotations_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		msg   string
	}{
		{"text before", "not an annotation", `unexpected identifier "not", expecting "@"`},
		{"trailing text", "@Foo bar", `unexpected identifier "bar", expecting end-of-line`},
		{"missing name", "@(a = 1)", `unexpected "(", expecting identifier`},
		{"too many dots", "@a.b.c", "must be an identifier or a qualified identifier"},
		{"unclosed", "@Foo(a = 1", `expecting "," or ")"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAnnotations("foo", strings.NewReader(tc.input))
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestParseAnnotation(t *testing.T) {
	a, err := ParseAnnotation("foo", `@shared.Postgres(size = "10Gb", public = false)`)
	require.Nil(t, err)
	assert.Equal(t, `@shared.Postgres(size = "10Gb", public = false)`, a.String())

	_, err = ParseAnnotation("foo", "@A\n@B")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "expecting exactly one annotation, found 2")
}
