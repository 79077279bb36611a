package makequery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/model"
	"reprise/internal/planner"
)

func TestParseOutput_BasicFields(t *testing.T) {
	lines := []string{
		"vim-9.1.0001",
		"",
		"",
		"",
		"pkgconf>=1.3.0:devel/pkgconf",
		"",
		"gettext-runtime>=0.20:devel/gettext-runtime libiconv>=1.14:converters/libiconv",
		"",
	}

	vars, err := parseOutput(lines)
	require.NoError(t, err)
	assert.Equal(t, "vim-9.1.0001", vars.PkgName)
	assert.Equal(t, "", vars.Ignore)
	assert.Equal(t, []model.Port{model.NewPort("devel/pkgconf", "")}, vars.Deps[planner.BuildDepends])
	assert.ElementsMatch(t, []model.Port{
		model.NewPort("devel/gettext-runtime", ""),
		model.NewPort("converters/libiconv", ""),
	}, vars.Deps[planner.LibDepends])
	assert.Empty(t, vars.Deps[planner.TestDepends])
}

func TestParseOutput_IgnoreSet(t *testing.T) {
	lines := []string{"foo-1.0", "Does not build on this architecture", "", "", "", "", "", ""}
	vars, err := parseOutput(lines)
	require.NoError(t, err)
	assert.Equal(t, "Does not build on this architecture", vars.Ignore)
}

func TestParseOutput_ShortOutputToleratesMissingTrailingLines(t *testing.T) {
	vars, err := parseOutput([]string{"foo-1.0"})
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0", vars.PkgName)
	assert.Empty(t, vars.Deps[planner.TestDepends])
}
