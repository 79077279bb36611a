// Package planner computes a Plan: the ordered set of tasks needed to
// build one target port, by breadth-first dependency discovery over
// the repository cache and the port tree, followed by a topological
// sort. Grounded on the teacher's pkg/deps.go (parseDependencyString's
// "witness:origin[@flavor]" format, buildDependencyGraph's
// consumer-edge bookkeeping, GetBuildOrder's Kahn-style topological
// sort) generalized from dsynth's six static dependency-kind fields
// into the late-bound BFS-with-manifest-fallback shape this planner
// needs, and on pkg/errors.go's CycleError/PortNotFoundError typed
// errors for its failure modes.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reprise/internal/model"
	"reprise/internal/task"
)

// DependencyKind enumerates the make(1) variables a port's makefile
// reports its dependencies under. The first five induce ordering
// edges; TestDepends does not (spec.md §4.8) — it only pulls a task
// into the plan.
type DependencyKind string

const (
	PkgDepends     DependencyKind = "PKG_DEPENDS"
	ExtractDepends DependencyKind = "EXTRACT_DEPENDS"
	BuildDepends   DependencyKind = "BUILD_DEPENDS"
	RunDepends     DependencyKind = "RUN_DEPENDS"
	LibDepends     DependencyKind = "LIB_DEPENDS"
	TestDepends    DependencyKind = "TEST_DEPENDS"
)

// orderingKinds lists the dependency kinds that induce a must-finish-before edge.
var orderingKinds = []DependencyKind{PkgDepends, ExtractDepends, BuildDepends, RunDepends, LibDepends}

// PortVars is the result of one batched makefile query: the port's
// package name and its dependency lists by kind, each entry already
// reduced to the origin (the right-hand side of "witness:origin").
type PortVars struct {
	PkgName string
	Ignore  string
	Deps    map[DependencyKind][]model.Port
}

// PortsQuerier abstracts reading variables out of a port's makefile,
// mirroring the teacher's PortsQuerier interface (pkg/ports_interface.go)
// so tests can substitute fixtures for a real `make -V` invocation.
type PortsQuerier interface {
	QueryMakefile(ctx context.Context, port model.Port) (PortVars, error)
}

// RepositoryCache abstracts the subset of repocache.Repository the
// planner needs: manifest lookups by name and by port.
type RepositoryCache interface {
	ByName(name string) (*model.PackageInfo, error)
	ByPort(port model.Port) (*model.PackageInfo, error)
}

// PackageFetcher is passed through to constructed task.Package nodes.
type PackageFetcher = task.PackageFetcher

// PortNotFoundError reports a queue node whose pkgname could not be
// resolved to a manifest entry or makefile.
type PortNotFoundError struct {
	PkgName string
}

func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("planner: package %q not found in repository cache", e.PkgName)
}

// CycleError reports a dependency cycle discovered during the
// topological sort, surviving past the TEST_DEPENDS cycle-break.
type CycleError struct {
	TotalTasks   int
	OrderedTasks int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("planner: cycle detected: only %d of %d tasks ordered", e.OrderedTasks, e.TotalTasks)
}

// Plan is the finalized, topologically sorted task list for one job.
type Plan struct {
	Tasks []task.Task
}

// Options parameterises one planning run.
type Options struct {
	Target        model.Port
	RebuildSet    map[string]bool // origins to force-rebuild from source
	BuildAsNobody bool
	DoTestTarget  bool

	Variables    map[string]string
	FetchTimeout time.Duration
	BuildTimeout time.Duration
	TestTimeout  time.Duration

	Querier  PortsQuerier
	Cache    RepositoryCache
	Fetcher  PackageFetcher
}

type entry struct {
	task      task.Task
	consumers []task.Task
}

type queueNode struct {
	port        *model.Port
	pkgname     string
	consumer    task.Task
	wantTesting bool

	// noConsumerEdge marks TEST_DEPENDS children: they are pulled into
	// the plan but must not gain a consumer edge back to the task that
	// named them, so the topological sort never forces them before it
	// (spec.md §4.8 step 6 — this is what keeps test-only cycles from
	// ever reaching the sort).
	noConsumerEdge bool
}

// Run runs the BFS-with-late-identity-resolution algorithm of
// spec.md §4.8 and returns the finalized, topologically sorted Plan.
func Run(ctx context.Context, opts Options) (*Plan, error) {
	tasks := make(map[string]*entry)
	var order []string // insertion order, for deterministic tie-breaking

	queue := []queueNode{{port: &opts.Target, wantTesting: true, consumer: nil}}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		port, pkgname, err := resolveIdentity(ctx, opts, node)
		if err != nil {
			return nil, err
		}

		if existing, ok := tasks[pkgname]; ok {
			if node.consumer != nil {
				existing.consumers = append(existing.consumers, node.consumer)
			}
			continue
		}

		t, children, err := buildTask(ctx, opts, port, pkgname, node.wantTesting)
		if err != nil {
			return nil, err
		}

		e := &entry{task: t}
		if node.consumer != nil {
			e.consumers = append(e.consumers, node.consumer)
		}
		tasks[pkgname] = e
		order = append(order, pkgname)

		for _, c := range children {
			if !c.noConsumerEdge {
				c.consumer = t
			}
			queue = append(queue, c)
		}
	}

	sorted, err := topoSort(tasks, order)
	if err != nil {
		return nil, err
	}
	return &Plan{Tasks: sorted}, nil
}

// resolveIdentity fills in whichever of port/pkgname is missing on
// node, per spec.md §4.8 step 3.
func resolveIdentity(ctx context.Context, opts Options, node queueNode) (model.Port, string, error) {
	if node.port != nil {
		if node.pkgname != "" {
			return *node.port, node.pkgname, nil
		}
		vars, err := opts.Querier.QueryMakefile(ctx, *node.port)
		if err != nil {
			return model.Port{}, "", err
		}
		return *node.port, vars.PkgName, nil
	}

	info, err := opts.Cache.ByName(node.pkgname)
	if err != nil {
		return model.Port{}, "", err
	}
	if info == nil {
		return model.Port{}, "", &PortNotFoundError{PkgName: node.pkgname}
	}
	return info.Port(), node.pkgname, nil
}

// buildTask decides the task variant for (port, pkgname) per spec.md
// §4.8 step 5, and returns the queue nodes for any children it
// enqueues (a Package task's manifest dependencies, or a Port task's
// makefile dependencies).
func buildTask(ctx context.Context, opts Options, port model.Port, pkgname string, wantTesting bool) (task.Task, []queueNode, error) {
	isTarget := port.Origin == opts.Target.Origin
	forceRebuild := opts.RebuildSet[port.Origin]

	if isTarget || forceRebuild {
		return buildPortTask(ctx, opts, port, pkgname, isTarget && wantTesting && opts.DoTestTarget)
	}

	info, err := opts.Cache.ByPort(port)
	if err != nil {
		return nil, nil, err
	}
	if info != nil {
		return buildPackageTask(opts, info)
	}
	return buildPortTask(ctx, opts, port, pkgname, false)
}

func buildPackageTask(opts Options, info *model.PackageInfo) (task.Task, []queueNode, error) {
	t := task.NewPackage(info, opts.Fetcher)
	children := make([]queueNode, 0, len(info.Dependencies))
	for _, depName := range info.Dependencies {
		children = append(children, queueNode{pkgname: depName})
	}
	return t, children, nil
}

func buildPortTask(ctx context.Context, opts Options, port model.Port, pkgname string, doTest bool) (task.Task, []queueNode, error) {
	vars, err := opts.Querier.QueryMakefile(ctx, port)
	if err != nil {
		return nil, nil, err
	}
	if pkgname == "" {
		pkgname = vars.PkgName
	}

	t := task.NewPort(port, pkgname, doTest, opts.BuildAsNobody, opts.FetchTimeout, opts.BuildTimeout, opts.TestTimeout, opts.Variables)

	var children []queueNode
	for _, kind := range orderingKinds {
		for _, depPort := range vars.Deps[kind] {
			p := depPort
			children = append(children, queueNode{port: &p})
		}
	}
	for _, depPort := range vars.Deps[TestDepends] {
		p := depPort
		children = append(children, queueNode{port: &p, noConsumerEdge: true})
	}
	return t, children, nil
}

// topoSort performs a DFS post-order traversal following consumer
// edges (task -> tasks that depend on it), then reverses, yielding
// dependencies before dependents. order gives the deterministic
// iteration order for roots and ties, matching "the order in which
// they were finalized" (spec.md §4.8).
func topoSort(tasks map[string]*entry, order []string) ([]task.Task, error) {
	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	var post []task.Task

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return &CycleError{TotalTasks: len(tasks), OrderedTasks: len(post)}
		}
		visited[name] = 1
		e := tasks[name]
		for _, consumer := range e.consumers {
			if err := visit(consumer.PkgName()); err != nil {
				return err
			}
		}
		visited[name] = 2
		post = append(post, e.task)
		return nil
	}

	for _, name := range order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	reversed := make([]task.Task, len(post))
	for i, t := range post {
		reversed[len(post)-1-i] = t
	}
	return reversed, nil
}

// ParseWitnessOrigin splits a dependency-string entry of the form
// "<witness>:<origin>[@<flavor>]" (e.g. "pkgconf>=1:devel/pkgconf")
// into a Port, discarding the witness — only the right side matters
// per spec.md §4.8.
func ParseWitnessOrigin(entry string) (model.Port, bool) {
	colon := strings.LastIndex(entry, ":")
	if colon < 0 {
		return model.Port{}, false
	}
	originFlavor := entry[colon+1:]
	at := strings.Index(originFlavor, "@")
	if at < 0 {
		return model.NewPort(originFlavor, ""), true
	}
	return model.NewPort(originFlavor[:at], originFlavor[at+1:]), true
}
