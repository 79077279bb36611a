package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"reprise/internal/bulk"
	"reprise/internal/config"
	"reprise/internal/hostrelease"
	"reprise/internal/jailtemplate"
	"reprise/internal/jobrunner"
	"reprise/internal/ledger"
	"reprise/internal/makequery"
	"reprise/internal/metrics"
	"reprise/internal/model"
	"reprise/internal/optcombo"
	"reprise/internal/planner"
	"reprise/internal/releasefetch"
	"reprise/internal/repocache"
	"reprise/internal/rlog"
	"reprise/internal/summary"
	"reprise/internal/ui"
	"reprise/internal/zfs"
)

// defaultSystem and defaultBranch fill in the two ABI-key components
// config.JailConfig doesn't carry (it only names version/arch/tags):
// reprise only ever builds FreeBSD jails today, and "latest" is the
// quarterly-branch-less package repository every jail defaults to
// absent an explicit --package-compression-style branch flag.
const (
	defaultSystem        = "FreeBSD"
	defaultBranch        = "latest"
	defaultReleaseServer = "https://download.freebsd.org/ftp/releases"
)

func runPipeline(cmd *cobra.Command, args []string, f *flags) error {
	applyLogLevel(f)

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}

	origins, err := resolveOrigins(args, f.file, f.portsDir)
	if err != nil {
		return err
	}
	if len(origins) == 0 {
		return fmt.Errorf("no ports specified")
	}

	vars, err := parseVars(f.vars)
	if err != nil {
		return err
	}
	netBuild, netTest, err := f.networking()
	if err != nil {
		return err
	}
	compression, err := parseCompression(f.compression)
	if err != nil {
		return err
	}

	jailSpecs, err := resolveJailSpecs(cfg, f.jails)
	if err != nil {
		return err
	}

	distDir := f.distDir
	if distDir == "" {
		distDir = filepath.Join(f.portsDir, "distfiles")
	}

	store := zfs.NewCmdStore()
	templates := jailtemplate.NewManager(store, cfg.ZFSRoot+"/jails", cfg.WorkDir, releasefetch.NewHTTPFetcher(defaultReleaseServer))
	querier := makequery.New(f.portsDir)

	var optionSets []optcombo.Combination
	if f.options {
		excluded := toSet(f.excludeOpts)
		var candidates []string
		for _, o := range f.includeOpts {
			if !excluded[o] {
				candidates = append(candidates, o)
			}
		}
		optionSets = optcombo.Enumerate(candidates)
	} else {
		optionSets = []optcombo.Combination{{}}
	}

	caches := make(map[string]*repocache.Repository, len(jailSpecs))
	for _, js := range jailSpecs {
		cache := repocache.New(cfg.RepositoryBase, defaultSystem, js.Version, js.Arch, defaultBranch,
			filepath.Join(cfg.WorkDir, "packages", abiDirName(js)))
		if f.forceRepoUpdate || (!f.noRepoUpdate && !cache.Initialized()) {
			if err := cache.Update(cmd.Context(), f.forceRepoUpdate); err != nil {
				rlog.With("component", "cli").Warnf("repocache update for %s: %v", js.Name, err)
			}
		}
		caches[js.Name] = cache
	}

	if f.dryRun {
		return printDryRun(cmd.Context(), origins, jailSpecs, caches, querier, vars, f)
	}

	var specs []*model.JobSpec
	for _, jailSpec := range jailSpecs {
		for _, origin := range origins {
			for _, combo := range optionSets {
				specs = append(specs, &model.JobSpec{
					TargetOrigin:       origin,
					PortsTreePath:      f.portsDir,
					DistFilesPath:      distDir,
					Jail:               jailSpec,
					RebuildFromSource:  toSet(f.rebuild),
					NetworkingBuild:    netBuild,
					NetworkingTest:     netTest,
					Variables:          mergeVars(vars, combo.ToVariables()),
					DoTest:             !f.noTest,
					BuildAsNobody:      !f.buildAsRoot,
					UseCCache:          !f.noCCache,
					UseTmpfsWork:       f.tmpfsWork,
					UseTmpfsLocalbase:  f.tmpfsLocalbase,
					FailFast:           f.failFast,
					PackageCompression: compression,
					FetchTimeout:       secondsToDuration(f.timeoutFetch),
					BuildTimeout:       secondsToDuration(f.timeoutBuild),
					TestTimeout:        secondsToDuration(f.timeoutTest),
				})
			}
		}
	}

	runners := make(map[string]*jobrunner.Runner, len(jailSpecs))
	for _, js := range jailSpecs {
		runners[js.Name] = jobrunner.New(jobrunner.Config{
			Store:           store,
			Templates:       templates,
			Cache:           caches[js.Name],
			Querier:         querier,
			InstanceRoot:    cfg.ZFSRoot + "/instances",
			HostPackagesDir: filepath.Join(cfg.WorkDir, "packages", abiDirName(js)),
			HostCCacheDir:   filepath.Join(cfg.WorkDir, "ccache"),
			LogsDir:         filepath.Join(cfg.WorkDir, "logs"),
			LockDir:         cfg.WorkDir,
			DNSServer:       cfg.DNSServer,
		})
	}

	return executeBulk(cmd.Context(), cfg, f, specs, &multiJailRunner{runners: runners})
}

// executeBulk fans every JobSpec out through internal/bulk, reporting
// live progress via internal/ui and a final table via internal/summary.
func executeBulk(ctx context.Context, cfg *config.Config, f *flags, specs []*model.JobSpec, runner bulk.Runner) error {
	log := rlog.With("component", "cli")

	led, err := ledger.Open(filepath.Join(cfg.WorkDir, "reprise.db"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	var metricsSrv *http.Server
	if f.metricsAddr != "" {
		metricsSrv = metrics.Serve(f.metricsAddr)
		defer metricsSrv.Shutdown(context.Background())
	}

	dash := chooseDashboard(f.quiet)
	if err := dash.Start(); err != nil {
		log.Warnf("start dashboard: %v", err)
	}

	start := time.Now()
	var entries []summary.Entry

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupted, canceling in-flight and queued jobs")
		cancelRun()
		dash.Stop()
	}()

	var entriesMu sync.Mutex
	stats := bulk.Run(runCtx, runner, specs, bulk.Options{
		Workers: f.jobs,
		Ledger:  led,
		OnResult: func(spec *model.JobSpec, result *model.JobResult) {
			dash.LogEvent(spec.TargetOrigin, result.Status)
			entriesMu.Lock()
			entries = append(entries, summary.FromResult(spec.TargetOrigin, result, time.Since(start)))
			entriesMu.Unlock()
		},
	})
	dash.Stop()
	signal.Stop(sigCh)

	total, results := stats.Snapshot()
	fmt.Println()
	summary.Write(os.Stdout, entries)
	summary.WriteCounts(os.Stdout, entries)

	if results[model.StatusSuccess] < total {
		return fmt.Errorf("%d of %d jobs did not succeed", total-results[model.StatusSuccess], total)
	}
	return nil
}

// chooseDashboard picks the tview dashboard when stdout is an
// interactive terminal and --quiet wasn't passed, the throttled
// stdout line otherwise (piped output, CI, --quiet).
func chooseDashboard(quiet bool) ui.Dashboard {
	if quiet || !term.IsTerminal(int(os.Stdout.Fd())) {
		return ui.NewStdoutDashboard()
	}
	return ui.NewTviewDashboard()
}

// multiJailRunner dispatches each JobSpec to the jobrunner.Runner
// built for its jail, so one bulk.Run call can cover a PORT x JAILS
// matrix.
type multiJailRunner struct {
	runners map[string]*jobrunner.Runner
}

func (m *multiJailRunner) Run(ctx context.Context, spec *model.JobSpec) (*model.JobResult, error) {
	r, ok := m.runners[spec.Jail.Name]
	if !ok {
		return nil, fmt.Errorf("no runner configured for jail %q", spec.Jail.Name)
	}
	return r.Run(ctx, spec)
}

func resolveJailSpecs(cfg *config.Config, tags []string) ([]model.JailSpec, error) {
	if len(tags) == 0 {
		info, err := hostrelease.Discover()
		if err != nil {
			return nil, fmt.Errorf("discover host release (pass -j/--jails to avoid autodetection): %w", err)
		}
		return []model.JailSpec{{Name: "host", Version: info.Release, Arch: info.Arch}}, nil
	}
	var out []model.JailSpec
	for _, tag := range tags {
		jc, ok := cfg.Jail(tag)
		if !ok {
			return nil, fmt.Errorf("unknown jail tag %q (not found in config)", tag)
		}
		out = append(out, model.JailSpec{Name: tag, Version: jc.Version, Arch: jc.Arch})
	}
	return out, nil
}

func abiDirName(js model.JailSpec) string {
	return fmt.Sprintf("%s-%s-%s-%s", defaultSystem, js.Version, js.Arch, defaultBranch)
}

func mergeVars(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func printDryRun(ctx context.Context, origins []string, jailSpecs []model.JailSpec, caches map[string]*repocache.Repository,
	querier planner.PortsQuerier, vars map[string]string, f *flags) error {

	for _, jailSpec := range jailSpecs {
		cache := caches[jailSpec.Name]
		for _, origin := range origins {
			plan, err := planner.Run(ctx, planner.Options{
				Target:        model.NewPort(origin, ""),
				RebuildSet:    toSet(f.rebuild),
				BuildAsNobody: !f.buildAsRoot,
				DoTestTarget:  !f.noTest,
				Variables:     vars,
				Querier:       querier,
				Cache:         cache,
				Fetcher:       cache,
			})
			if err != nil {
				return fmt.Errorf("dry-run plan for %s (jail %s): %w", origin, jailSpec.Name, err)
			}
			fmt.Printf("%s (jail %s):\n", origin, jailSpec.Name)
			for _, t := range plan.Tasks {
				fmt.Printf("  %s\n", t.PkgName())
			}
		}
	}
	return nil
}
