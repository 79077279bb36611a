// Package makequery implements planner.PortsQuerier by shelling out to
// make(1) inside the ports tree, directly grounded on the teacher's
// pkg/ports_interface.go realPortsQuerier: one batched `make -V VAR...`
// invocation per port, parsed positionally.
package makequery

import (
	"context"
	"strings"

	"reprise/internal/execx"
	"reprise/internal/model"
	"reprise/internal/planner"
)

// queriedVars is the fixed order of variables requested from make(1);
// parseOutput depends on this exact order.
var queriedVars = []string{
	"PKGNAME",
	"IGNORE",
	"PKG_DEPENDS",
	"EXTRACT_DEPENDS",
	"BUILD_DEPENDS",
	"RUN_DEPENDS",
	"LIB_DEPENDS",
	"TEST_DEPENDS",
}

// Querier queries a real ports tree rooted at PortsDir.
type Querier struct {
	PortsDir string
}

func New(portsDir string) *Querier {
	return &Querier{PortsDir: portsDir}
}

func (q *Querier) QueryMakefile(ctx context.Context, port model.Port) (planner.PortVars, error) {
	portPath := q.PortsDir + "/" + port.Origin

	args := []string{"-C", portPath}
	if port.Flavor != "" {
		args = append(args, "FLAVOR="+port.Flavor)
	}
	for _, v := range queriedVars {
		args = append(args, "-V", v)
	}

	result, err := execx.Execute(ctx, "make", args, execx.Options{})
	if err != nil {
		return planner.PortVars{}, err
	}
	return parseOutput(result.Stdout)
}

// parseOutput expects one line of output per entry in queriedVars, in
// order, each a space-separated list of "witness:origin[@flavor]"
// dependency entries (empty lines for ports with no dependencies of
// that kind).
func parseOutput(lines []string) (planner.PortVars, error) {
	get := func(i int) string {
		if i < len(lines) {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}

	vars := planner.PortVars{
		PkgName: get(0),
		Ignore:  get(1),
		Deps:    make(map[planner.DependencyKind][]model.Port),
	}

	kinds := []planner.DependencyKind{
		planner.PkgDepends,
		planner.ExtractDepends,
		planner.BuildDepends,
		planner.RunDepends,
		planner.LibDepends,
		planner.TestDepends,
	}
	for i, kind := range kinds {
		raw := get(2 + i)
		if raw == "" {
			continue
		}
		var ports []model.Port
		for _, entry := range strings.Fields(raw) {
			if p, ok := planner.ParseWitnessOrigin(entry); ok {
				ports = append(ports, p)
			}
		}
		vars.Deps[kind] = ports
	}
	return vars, nil
}
