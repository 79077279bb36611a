// Package jobrunner drives one JobSpec through its full sandbox
// lifecycle: template preparation, instance cloning, overlay mount
// setup, the fetch/install/test phase sequence (each in its own
// sandbox with its own networking policy), and guaranteed teardown.
// Grounded on the teacher's build/phases.go phase-dispatch sequence
// and environment/bsd/bsd.go's Setup/Cleanup pairing (a deferred
// cleanup that always runs, success or failure), generalized from a
// single fixed chroot into the clone-per-job, three-sandbox-handoff
// model of spec.md §4.11.
package jobrunner

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"reprise/internal/execx"
	"reprise/internal/filelock"
	"reprise/internal/jail"
	"reprise/internal/jailtemplate"
	"reprise/internal/metrics"
	"reprise/internal/model"
	"reprise/internal/mount"
	"reprise/internal/planexec"
	"reprise/internal/planner"
	"reprise/internal/resources"
	"reprise/internal/rlog"
	"reprise/internal/task"
	"reprise/internal/zfs"
)

// RepositoryCache is the capability set a Runner needs from the
// package index cache: manifest lookups (for the planner) and package
// retrieval (for the fetch phase and the pkg-static bootstrap step).
// *repocache.Repository satisfies this directly.
type RepositoryCache interface {
	planner.RepositoryCache
	task.PackageFetcher
}

// Config carries the host-side paths and dataset roots a Runner needs
// across every job it drives.
type Config struct {
	Store     zfs.Store
	Templates *jailtemplate.Manager
	Cache     RepositoryCache
	Querier   planner.PortsQuerier

	InstanceRoot    string // e.g. "zroot/reprise/instances"
	HostPackagesDir string
	HostCCacheDir   string
	LogsDir         string
	LockDir         string
	DNSServer       string
}

// Runner drives JobSpecs to completion.
type Runner struct {
	cfg Config
	log rlog.Logger
}

func New(cfg Config) *Runner {
	return &Runner{cfg: cfg, log: rlog.With("component", "jobrunner")}
}

// Run executes spec end to end and always returns a JobResult once the
// instance has been cloned; an error is only returned for conditions
// that prevented even attempting the job (template preparation or
// cloning failure, before any sandbox exists). A later failure, or any
// panic, is reported as a CRASHED result instead, keeping the log path
// when one was allocated, per spec.md §4.11.
func (r *Runner) Run(ctx context.Context, spec *model.JobSpec) (result *model.JobResult, err error) {
	start := time.Now()
	result = &model.JobResult{Spec: spec, Status: model.StatusCrashed}
	crashed := result
	attempted := false

	defer func() {
		if rec := recover(); rec != nil {
			result = crashed
			result.Status = model.StatusCrashed
			result.Details = fmt.Sprintf("panic: %v", rec)
			err = nil
		}
		if attempted && err != nil {
			crashed.Status = model.StatusCrashed
			crashed.Details = err.Error()
			result, err = crashed, nil
		}
		status := model.StatusCrashed
		if result != nil {
			status = result.Status
		}
		if attempted {
			metrics.IncJob(string(status))
		}
		r.log.Infof("job %s finished status=%s in %s", spec.TargetOrigin, status, time.Since(start))
	}()

	prepared, err := r.cfg.Templates.Ensure(ctx, spec.Jail)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: prepare template: %w", err)
	}

	instanceName := fmt.Sprintf("%s/%s", r.cfg.InstanceRoot, uuid.New().String())
	instanceDs := zfs.NewDataset(r.cfg.Store, instanceName)
	masterDs := zfs.NewDataset(r.cfg.Store, prepared.MasterDataset)

	if err := instanceDs.CloneFrom(ctx, masterDs, "clean", true); err != nil {
		return nil, fmt.Errorf("jobrunner: clone instance: %w", err)
	}
	attempted = true

	defer r.finallyCleanup(instanceDs)

	if err := instanceDs.ResolveMountpoint(ctx); err != nil {
		return nil, fmt.Errorf("jobrunner: resolve instance mountpoint: %w", err)
	}
	instancePath, err := instanceDs.GetPath()
	if err != nil {
		return nil, err
	}

	if live, lerr := resources.Enumerate(ctx, instancePath); lerr == nil && (len(live.Sandboxes) > 0 || len(live.Mounts) > 0) {
		r.log.Warnf("jobrunner: %d leftover sandboxes, %d leftover mounts under %s", len(live.Sandboxes), len(live.Mounts), instancePath)
	}

	if err := r.materializeOverlayFiles(instancePath, spec); err != nil {
		return nil, fmt.Errorf("jobrunner: materialize overlay files: %w", err)
	}

	dirs, err := r.createOverlayDirs(instancePath, spec)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: create overlay dirs: %w", err)
	}

	mounts, err := r.mountOverlays(ctx, instancePath, spec, dirs)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: mount overlays: %w", err)
	}
	defer func() {
		for i := len(mounts) - 1; i >= 0; i-- {
			mounts[i].Destroy(context.Background())
		}
	}()

	if spec.BuildAsNobody {
		if _, err := execx.Execute(ctx, "chown", []string{"-R", "nobody:nobody", dirs.work}, execx.Options{}); err != nil {
			return nil, fmt.Errorf("jobrunner: chown work dir: %w", err)
		}
	}

	sandbox, err := jail.Start(ctx, instancePath, "reprise-fetcher", model.NetworkingUnrestricted)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: start fetcher sandbox: %w", err)
	}
	defer func() {
		if sandbox != nil {
			sandbox.Destroy(context.Background())
		}
	}()

	if err := r.bootstrapPkg(ctx, sandbox, instancePath); err != nil {
		return nil, fmt.Errorf("jobrunner: bootstrap pkg: %w", err)
	}

	target := model.NewPort(spec.TargetOrigin, "")
	ignoreRes, err := sandbox.Execute(ctx, jail.Root, 30*time.Second, "make", "-C", "/usr/ports/"+target.Origin, "-V", "IGNORE")
	if err != nil {
		return nil, fmt.Errorf("jobrunner: evaluate IGNORE: %w", err)
	}
	if len(ignoreRes.Stdout) > 0 && strings.TrimSpace(ignoreRes.Stdout[0]) != "" {
		result.Status = model.StatusSkipped
		result.Details = strings.TrimSpace(ignoreRes.Stdout[0])
		return result, nil
	}

	plan, err := planner.Run(ctx, planner.Options{
		Target:        target,
		RebuildSet:    spec.RebuildFromSource,
		BuildAsNobody: spec.BuildAsNobody,
		DoTestTarget:  spec.DoTest,
		Variables:     spec.AllVariables(),
		FetchTimeout:  spec.FetchTimeout,
		BuildTimeout:  spec.BuildTimeout,
		TestTimeout:   spec.TestTimeout,
		Querier:       r.cfg.Querier,
		Cache:         r.cfg.Cache,
		Fetcher:       r.cfg.Cache,
	})
	if err != nil {
		return nil, fmt.Errorf("jobrunner: plan: %w", err)
	}
	exec := planexec.New(plan)

	logFile, err := r.allocateLog(spec.TargetOrigin)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: allocate log: %w", err)
	}
	defer logFile.Close()
	result.LogPath = logFile.Name()
	var logWriter io.Writer = logFile

	fetchLock, err := filelock.Acquire(filepath.Join(r.cfg.LockDir, "fetch.lock"))
	if err != nil {
		return nil, fmt.Errorf("jobrunner: acquire fetch lock: %w", err)
	}
	defer fetchLock.Release()
	fetchStart := time.Now()
	fetchStatus, ferr := exec.Fetch(ctx, sandbox, logWriter)
	metrics.ObservePhase("fetch", time.Since(fetchStart))
	if ferr != nil || fetchStatus != task.StatusSuccess {
		result.Status = statusForPhase("FETCH", fetchStatus)
		return result, nil
	}

	if err := sandbox.Destroy(ctx); err != nil {
		return nil, fmt.Errorf("jobrunner: destroy fetcher sandbox: %w", err)
	}
	sandbox, err = jail.Start(ctx, instancePath, "reprise-builder", spec.NetworkingBuild)
	if err != nil {
		return nil, fmt.Errorf("jobrunner: start builder sandbox: %w", err)
	}

	installStart := time.Now()
	installStatus, ierr := exec.Install(ctx, sandbox, logWriter)
	metrics.ObservePhase("install", time.Since(installStart))
	if ierr != nil || installStatus != task.StatusSuccess {
		result.Status = statusForPhase("INSTALL", installStatus)
		return result, nil
	}

	if spec.DoTest {
		if err := sandbox.Destroy(ctx); err != nil {
			return nil, fmt.Errorf("jobrunner: destroy builder sandbox: %w", err)
		}
		sandbox, err = jail.Start(ctx, instancePath, "reprise-tester", spec.NetworkingTest)
		if err != nil {
			return nil, fmt.Errorf("jobrunner: start tester sandbox: %w", err)
		}

		testStart := time.Now()
		testStatus, terr := exec.Test(ctx, sandbox, logWriter)
		metrics.ObservePhase("test", time.Since(testStart))
		if terr != nil || testStatus != task.StatusSuccess {
			result.Status = statusForPhase("TEST", testStatus)
			return result, nil
		}
	}

	result.Status = model.StatusSuccess
	return result, nil
}

// finallyCleanup sweeps any resources left under the instance's
// mountpoint (sandboxes, mounts), then destroys the instance dataset
// itself. It runs unconditionally via defer, regardless of how Run
// returns, mirroring the teacher's BSDEnvironment.Cleanup guarantee.
func (r *Runner) finallyCleanup(instanceDs *zfs.Dataset) {
	ctx := context.Background()
	if path, err := instanceDs.GetPath(); err == nil {
		if live, err := resources.Enumerate(ctx, path); err == nil {
			d := &resources.Destroyer{
				DestroySandbox: func(ctx context.Context, id int) error {
					_, err := execx.Execute(ctx, "jail", []string{"-r", fmt.Sprint(id)}, execx.Options{AllowFailure: true})
					return err
				},
				DestroyMount: func(ctx context.Context, target string) error {
					_, err := execx.Execute(ctx, "umount", []string{"-f", target}, execx.Options{AllowFailure: true})
					return err
				},
			}
			d.DestroyAll(ctx, live)
		}
	}
	if err := instanceDs.Destroy(ctx); err != nil {
		r.log.Warnf("jobrunner: destroy instance %s: %v", instanceDs.Name(), err)
	}
}

type overlayDirs struct {
	ports, distfiles, work, packages, ccache, localbase string
}

func (r *Runner) materializeOverlayFiles(instancePath string, spec *model.JobSpec) error {
	resolvConf := fmt.Sprintf("nameserver %s\n", r.cfg.DNSServer)
	if err := os.WriteFile(filepath.Join(instancePath, "etc/resolv.conf"), []byte(resolvConf), 0644); err != nil {
		return err
	}

	var makeConf strings.Builder
	for k, v := range spec.AllVariables() {
		fmt.Fprintf(&makeConf, "%s=%s\n", k, v)
	}
	if err := os.WriteFile(filepath.Join(instancePath, "etc/make.conf"), []byte(makeConf.String()), 0644); err != nil {
		return err
	}

	pkgConfPath := filepath.Join(instancePath, "etc/pkg/FreeBSD.conf")
	if data, err := os.ReadFile(pkgConfPath); err == nil {
		patched := strings.ReplaceAll(string(data), "quarterly", "latest")
		if err := os.WriteFile(pkgConfPath, []byte(patched), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) createOverlayDirs(instancePath string, spec *model.JobSpec) (overlayDirs, error) {
	d := overlayDirs{
		ports:     filepath.Join(instancePath, "usr/ports"),
		distfiles: filepath.Join(instancePath, "distfiles"),
		work:      filepath.Join(instancePath, "work"),
		packages:  filepath.Join(instancePath, "packages"),
	}
	paths := []string{d.ports, d.distfiles, d.work, d.packages}
	if spec.UseCCache {
		d.ccache = filepath.Join(instancePath, "ccache")
		paths = append(paths, d.ccache)
	}
	if spec.UseTmpfsLocalbase {
		d.localbase = filepath.Join(instancePath, "usr/local")
		paths = append(paths, d.localbase)
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0755); err != nil {
			return d, err
		}
	}
	return d, nil
}

// mountOverlays issues every required mount concurrently and awaits
// them as a group, per spec.md §5 ("mount setup within a single job
// issues all required mounts concurrently and awaits them as a
// group"). On any failure, every mount that did succeed is torn back
// down before returning.
func (r *Runner) mountOverlays(ctx context.Context, instancePath string, spec *model.JobSpec, dirs overlayDirs) ([]*mount.Mount, error) {
	type job func() (*mount.Mount, error)
	var jobs []job

	jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountDevfs(ctx, filepath.Join(instancePath, "dev")) })
	jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountBind(ctx, spec.PortsTreePath, dirs.ports, true) })
	jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountBind(ctx, spec.DistFilesPath, dirs.distfiles, false) })
	jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountBind(ctx, r.cfg.HostPackagesDir, dirs.packages, false) })
	if spec.UseCCache {
		jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountBind(ctx, r.cfg.HostCCacheDir, dirs.ccache, false) })
	}
	if spec.UseTmpfsWork {
		jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountMemfs(ctx, dirs.work, 0) })
	}
	if spec.UseTmpfsLocalbase {
		jobs = append(jobs, func() (*mount.Mount, error) { return mount.MountMemfs(ctx, dirs.localbase, 0) })
	}

	type outcome struct {
		handle *mount.Mount
		err    error
	}
	results := make(chan outcome, len(jobs))
	for _, j := range jobs {
		go func(j job) {
			h, err := j()
			results <- outcome{h, err}
		}(j)
	}

	var handles []*mount.Mount
	var firstErr error
	for range jobs {
		o := <-results
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		handles = append(handles, o.handle)
	}
	if firstErr != nil {
		for _, h := range handles {
			h.Destroy(context.Background())
		}
		return nil, firstErr
	}
	return handles, nil
}

// bootstrapPkg fetches the "pkg" binary package from the repository
// cache and extracts pkg-static from it directly into the sandbox's
// /usr/local/sbin, then uses it to self-install "pkg" properly. This
// mirrors the bootstrap dance real FreeBSD systems perform on first
// `pkg` use, made explicit here since the sandbox starts from a bare
// base.txz with no package manager installed.
func (r *Runner) bootstrapPkg(ctx context.Context, sandbox *jail.Sandbox, instancePath string) error {
	info, err := r.cfg.Cache.ByName("pkg")
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("jobrunner: no pkg package in repository cache")
	}
	fetched, err := r.cfg.Cache.GetPackage(ctx, info)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(fetched.Path)
	if err != nil {
		return err
	}
	bin, err := extractArchiveMember(data, "usr/local/sbin/pkg-static")
	if err != nil {
		return err
	}

	destPath := filepath.Join(instancePath, "usr/local/sbin/pkg-static")
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(destPath, bin, 0755); err != nil {
		return err
	}

	_, err = sandbox.Execute(ctx, jail.Root, 2*time.Minute, "/usr/local/sbin/pkg-static", "add", "-f", "/packages/"+info.Filename())
	return err
}

// extractArchiveMember decodes an xz-compressed tar archive (the .pkg
// wire format) and returns the named member's raw bytes, mirroring
// repocache.extractMember.
func extractArchiveMember(data []byte, member string) ([]byte, error) {
	xr, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("member %s not found", member)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == member || strings.TrimPrefix(hdr.Name, "/") == member {
			return io.ReadAll(tr)
		}
	}
}

func (r *Runner) allocateLog(origin string) (*os.File, error) {
	if err := os.MkdirAll(r.cfg.LogsDir, 0755); err != nil {
		return nil, err
	}
	safe := strings.ReplaceAll(origin, "/", "_")
	for i := 1; ; i++ {
		path := filepath.Join(r.cfg.LogsDir, fmt.Sprintf("%s.%d.log", safe, i))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
	}
}

func statusForPhase(phase string, status task.Status) model.JobStatus {
	if status == task.StatusTimeout {
		switch phase {
		case "FETCH":
			return model.StatusFetchTimeout
		case "INSTALL":
			return model.StatusBuildTimeout
		default:
			return model.StatusTestTimeout
		}
	}
	switch phase {
	case "FETCH":
		return model.StatusFetchFailed
	case "INSTALL":
		return model.StatusBuildFailed
	default:
		return model.StatusTestFailed
	}
}
