package processor

import (
	"errors"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWithPosition(t *testing.T) {
	pos := token.Position{Filename: "main.go", Line: 3, Column: 7}
	err := errorf(ErrReservedName, pos, "name %q is taken", "ctx").WithHint("Rename it")

	assert.Equal(t, `main.go:3:7: name "ctx" is taken`, err.Error())
	assert.Equal(t, ErrReservedName, err.Kind())
	assert.Equal(t, pos, err.Pos())
	assert.Equal(t, "Rename it", err.Hint)
	assert.True(t, errors.Is(err, ErrReservedName))
	assert.False(t, errors.Is(err, ErrSyntax))

	underlying := errors.New("boom")
	wrapped := NewErrorWithPosition(ErrSyntax, pos, underlying)
	assert.Same(t, underlying, wrapped.Underlying())
	assert.True(t, errors.Is(wrapped, underlying))
}

func TestDiagnostics(t *testing.T) {
	var diags Diagnostics
	assert.NoError(t, diags.ErrOrNil())
	diags.Append(nil)
	assert.Empty(t, diags)

	late := errorf(ErrSyntax, token.Position{Filename: "b.go", Line: 1, Column: 1}, "late")
	second := errorf(ErrReservedName, token.Position{Filename: "a.go", Line: 4, Column: 9}, "second")
	first := errorf(ErrReservedName, token.Position{Filename: "a.go", Line: 4, Column: 2}, "first")

	diags.Append(late)
	single := diags.ErrOrNil()
	require.Error(t, single)
	assert.Same(t, late, single)

	diags.AppendAll(Diagnostics{second, first})
	sorted := diags.Sorted()
	assert.Equal(t, Diagnostics{first, second, late}, sorted)
	// sorting copies
	assert.Same(t, late, diags[0])

	assert.True(t, diags.Has(ErrSyntax))
	assert.False(t, diags.Has(ErrBuildConstraint))

	err := sorted.ErrOrNil()
	assert.Equal(t, "3 errors occurred:\n\t* a.go:4:2: first\n\t* a.go:4:9: second\n\t* b.go:1:1: late", err.Error())
	assert.ErrorIs(t, err, ErrSyntax)
	var ewp *ErrorWithPosition
	require.True(t, errors.As(err, &ewp))
	assert.Same(t, first, ewp)
}
