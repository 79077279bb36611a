// Package task implements the two plan-node variants — Package and
// Port — each exposing fetch/install/test phase methods against a
// sandbox. Grounded on the teacher's build/phases.go executePhase
// switch (one function per phase, each writing a banner before
// streaming the command) and log/pkglog.go's banner style, generalized
// from "phase within one fixed chroot build" into fetch/install/test
// keyed off the task's own kind per spec.md §4.9.
package task

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"reprise/internal/jail"
	"reprise/internal/model"
)

// Status is the outcome of one phase method call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusTimeout Status = "TIMEOUT"
)

func statusFromExitCode(code int) Status {
	switch {
	case code == 0:
		return StatusSuccess
	case code == 124:
		return StatusTimeout
	default:
		return StatusFailure
	}
}

// bannerWidth matches spec.md §4.9's 80-column ASCII phase banners.
const bannerWidth = 80

func writeBanner(w io.Writer, label string) {
	rule := strings.Repeat("=", bannerWidth)
	fmt.Fprintf(w, "%s\n%s\n%s\n", rule, label, rule)
}

// PackageFetcher is the capability task.Package needs from the
// repository cache; repocache.Repository satisfies it.
type PackageFetcher interface {
	GetPackage(ctx context.Context, info *model.PackageInfo) (*Fetched, error)
}

// Fetched is what a PackageFetcher returns, defined here so task does
// not import repocache, keeping the dependency edge one-directional
// (repocache and jobrunner both depend on task; task depends on
// neither).
type Fetched struct {
	Path string
	Info *model.PackageInfo
}

// Task is one node in a Plan: something with a name that can be
// fetched, installed, and tested inside a sandbox.
type Task interface {
	PkgName() string
	Fetch(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error)
	Install(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error)
	Test(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error)
}

// Package is an install-only task resolved against the remote binary
// package repository.
type Package struct {
	Info    *model.PackageInfo
	Fetcher PackageFetcher

	fetched *Fetched
}

func NewPackage(info *model.PackageInfo, fetcher PackageFetcher) *Package {
	return &Package{Info: info, Fetcher: fetcher}
}

func (p *Package) PkgName() string { return p.Info.NameVer() }

func (p *Package) Fetch(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	writeBanner(log, "fetch "+p.PkgName())
	f, err := p.Fetcher.GetPackage(ctx, p.Info)
	if err != nil {
		fmt.Fprintf(log, "fetch failed: %v\n", err)
		return StatusFailure, err
	}
	p.fetched = f
	return StatusSuccess, nil
}

func (p *Package) Install(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	writeBanner(log, "install "+p.PkgName())
	code, err := sandbox.ExecuteStreaming(ctx, jail.Root, 0, log, "pkg", "add", "-q", "/packages/"+p.Info.Filename())
	if err != nil {
		return StatusFailure, err
	}
	return statusFromExitCode(code), nil
}

func (p *Package) Test(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	return StatusSuccess, nil
}

var _ Task = (*Package)(nil)

// Port is a from-source task driven by make(1) inside the sandbox.
type Port struct {
	Port          model.Port
	PkgNameValue  string
	DoTest        bool
	BuildAsNobody bool

	FetchTimeout time.Duration
	BuildTimeout time.Duration
	TestTimeout  time.Duration

	Variables map[string]string
}

func NewPort(port model.Port, pkgName string, doTest, buildAsNobody bool, fetchTimeout, buildTimeout, testTimeout time.Duration, variables map[string]string) *Port {
	return &Port{
		Port:          port,
		PkgNameValue:  pkgName,
		DoTest:        doTest,
		BuildAsNobody: buildAsNobody,
		FetchTimeout:  fetchTimeout,
		BuildTimeout:  buildTimeout,
		TestTimeout:   testTimeout,
		Variables:     variables,
	}
}

func (p *Port) PkgName() string { return p.PkgNameValue }

func (p *Port) portDir() string {
	return "/usr/ports/" + p.Port.Origin
}

func (p *Port) makeArgs(extra ...string) []string {
	args := []string{
		"-C", p.portDir(),
		"BATCH=1",
		"DISTDIR=/distfiles",
		"WRKDIRPREFIX=/work",
		"PKG_ADD=false",
		"USE_PACKAGE_DEPENDS_ONLY=1",
		"NO_IGNORE=1",
		"_LICENSE_STATUS=accepted",
	}
	if p.Port.Flavor != "" {
		args = append(args, "FLAVOR="+p.Port.Flavor)
	}
	for k, v := range p.Variables {
		args = append(args, k+"="+v)
	}
	args = append(args, extra...)
	return args
}

func (p *Port) Fetch(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	writeBanner(log, "fetch "+p.Port.String())
	code, err := sandbox.ExecuteStreaming(ctx, jail.Root, p.FetchTimeout, log, "make", p.makeArgs("checksum")...)
	if err != nil {
		return StatusFailure, err
	}
	return statusFromExitCode(code), nil
}

func (p *Port) Install(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	checkUser := jail.Root
	if p.BuildAsNobody {
		checkUser = jail.Nobody
	}

	writeBanner(log, "package "+p.Port.String())
	code, err := sandbox.ExecuteStreaming(ctx, checkUser, p.BuildTimeout, log, "make", p.makeArgs("package", "check-plist")...)
	if err != nil {
		return StatusFailure, err
	}
	if status := statusFromExitCode(code); status != StatusSuccess {
		return status, nil
	}

	writeBanner(log, "install "+p.Port.String())
	code, err = sandbox.ExecuteStreaming(ctx, jail.Root, p.BuildTimeout, log, "make", p.makeArgs("install-package")...)
	if err != nil {
		return StatusFailure, err
	}
	return statusFromExitCode(code), nil
}

func (p *Port) Test(ctx context.Context, sandbox jail.Runner, log io.Writer) (Status, error) {
	if !p.DoTest {
		return StatusSuccess, nil
	}
	testUser := jail.Root
	if p.BuildAsNobody {
		testUser = jail.Nobody
	}

	writeBanner(log, "test "+p.Port.String())
	args := append([]string{"-Bc", "unlimited", "env", "make"}, p.makeArgs("test")...)
	code, err := sandbox.ExecuteStreaming(ctx, testUser, p.TestTimeout, log, "limits", args...)
	if err != nil {
		return StatusFailure, err
	}
	return statusFromExitCode(code), nil
}

var _ Task = (*Port)(nil)
