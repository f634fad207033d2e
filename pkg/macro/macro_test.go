package macro_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/macro"
)

func TestExpandSubstitutesExpressions(t *testing.T) {
	e := macro.NewExpander(0)
	out, errs, err := e.Expand("G0 Z{(+ z 2)} F{feed}\nM3 S{speed}", macro.Vars{"z": 1.5, "feed": 800, "speed": 12000})
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, "G0 Z3.5 F800\nM3 S12000", out)
}

func TestExpandPlainTextUnchanged(t *testing.T) {
	e := macro.NewExpander(0)
	out, errs, err := e.Expand("G28\nM5", nil)
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, "G28\nM5", out)
}

func TestExpandBuiltins(t *testing.T) {
	e := macro.NewExpander(0)
	out, errs, err := e.Expand("{(clamp z 0 10)} {(round_to 1.23456 2)}", macro.Vars{"z": 42})
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, "10 1.23", out)
}

func TestExpandReportsPositions(t *testing.T) {
	e := macro.NewExpander(0)
	_, errs, err := e.Expand("G0\nG1 X{nosuchvar}", macro.DefaultVars())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Line)
	assert.Equal(t, 5, errs[0].Col)
	assert.Equal(t, "nosuchvar", errs[0].Expr)
}

func TestSplitErrors(t *testing.T) {
	e := macro.NewExpander(0)
	for _, code := range []string{"G0 Z{(+ z 1)", "G0 Z}", "G0 {}", "{a\n}"} {
		_, errs, err := e.Expand(code, macro.DefaultVars())
		require.NoError(t, err)
		assert.NotEmpty(t, errs, "code %q", code)
	}
}

func TestCheck(t *testing.T) {
	e := macro.NewExpander(0)
	assert.NoError(t, e.Check("G0 Z{(+ top 5)} F{feed}"))
	assert.Error(t, e.Check("G0 Z{(+ top"))
	assert.Error(t, e.Check("G0 Z{undefined_name}"))
}
