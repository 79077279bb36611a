package optcombo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumerate_NoOptionsYieldsOneEmptyCombination(t *testing.T) {
	combos := Enumerate(nil)
	assert.Equal(t, []Combination{{}}, combos)
}

func TestEnumerate_TwoOptionsYieldsFourCombinations(t *testing.T) {
	combos := Enumerate([]string{"SSL", "NLS"})
	assert.Len(t, combos, 4)
	assert.Equal(t, Combination{"SSL": false, "NLS": false}, combos[0])
	assert.Equal(t, Combination{"SSL": true, "NLS": true}, combos[3])
}

func TestCombination_ToVariables(t *testing.T) {
	combo := Combination{"SSL": true, "NLS": false}
	vars := combo.ToVariables()
	assert.Equal(t, "yes", vars["WITH_SSL"])
	assert.Equal(t, "yes", vars["WITHOUT_NLS"])
}
