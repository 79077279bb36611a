package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reprise/internal/model"
	"reprise/internal/rlog"
)

// flags mirrors the command-line surface of spec.md §6 — a plain
// struct of cobra-bound values rather than individually named package
// globals, so runPipeline takes one argument instead of a dozen.
type flags struct {
	portsDir     string
	distDir      string
	rebuild      []string
	file         string
	vars         []string
	options      bool
	includeOpts  []string
	excludeOpts  []string
	excludeDflts bool
	jails        []string

	debug    bool
	dryRun   bool
	quiet    bool
	config   string
	failFast bool

	networkingBuild string
	networkingTest  string
	buildAsRoot     bool
	noCCache        bool
	noTest          bool
	compression     string

	tmpfsWork      bool
	tmpfsLocalbase bool
	tmpfsLimitMB   int

	timeoutFetch int
	timeoutBuild int
	timeoutTest  int

	noRepoUpdate   bool
	forceRepoUpdate bool
	interactive    bool

	jobs int

	metricsAddr string
}

func rootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "reprise PORT...",
		Short: "Build and test FreeBSD ports in disposable jail sandboxes",
		Long: "reprise resolves a port's dependency closure, decides package-vs-build-from-source\n" +
			"per node, and fetches/builds/installs/tests the target in an isolated, ZFS-snapshot-backed\n" +
			"jail, producing a verdict and a log file per job.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args, f)
		},
	}

	cmd.Flags().StringVarP(&f.portsDir, "portsdir", "p", "/usr/ports", "ports-tree path on host")
	cmd.Flags().StringVar(&f.distDir, "distdir", "", "distfiles path on host (autodetect if omitted)")
	cmd.Flags().StringSliceVarP(&f.rebuild, "rebuild", "r", nil, "origins to force-rebuild")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "file (or - for stdin) with one origin per line")
	cmd.Flags().StringSliceVarP(&f.vars, "vars", "V", nil, "injected build variables, KEY=VALUE")
	cmd.Flags().BoolVarP(&f.options, "options", "O", false, "enumerate option combinations")
	cmd.Flags().StringSliceVar(&f.includeOpts, "include-options", nil, "restrict enumeration to these options")
	cmd.Flags().StringSliceVar(&f.excludeOpts, "exclude-options", nil, "drop these options from enumeration")
	cmd.Flags().BoolVar(&f.excludeDflts, "exclude-default-options", false, "accepted but has no effect: default-on options are not dropped from enumeration")
	cmd.Flags().StringSliceVarP(&f.jails, "jails", "j", nil, "jail tags to test in")

	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "verbose logging")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "print the computed plan without executing it")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress non-essential output")
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "config file path")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "accepted but has no effect: a bulk run always runs every job")

	cmd.Flags().StringVar(&f.networkingBuild, "networking-build", string(model.NetworkingDisabled), "DISABLED|RESTRICTED|UNRESTRICTED")
	cmd.Flags().StringVar(&f.networkingTest, "networking-test", string(model.NetworkingDisabled), "DISABLED|RESTRICTED|UNRESTRICTED")
	cmd.Flags().BoolVar(&f.buildAsRoot, "build-as-root", false, "build as root instead of nobody")
	cmd.Flags().BoolVar(&f.noCCache, "no-ccache", false, "disable ccache even if configured")
	cmd.Flags().BoolVar(&f.noTest, "no-test", false, "skip the test phase")
	cmd.Flags().StringVar(&f.compression, "package-compression", string(model.CompressionDefault), "NONE|FAST|DEFAULT|BEST")

	cmd.Flags().BoolVar(&f.tmpfsWork, "tmpfs-work", false, "back the work directory with tmpfs")
	cmd.Flags().BoolVar(&f.tmpfsLocalbase, "tmpfs-localbase", false, "back /usr/local with tmpfs")
	cmd.Flags().IntVar(&f.tmpfsLimitMB, "tmpfs-limit-mb", 0, "accepted but has no effect: tmpfs mounts are always unbounded")

	cmd.Flags().IntVar(&f.timeoutFetch, "timeout-fetch", 0, "fetch phase timeout, seconds (0 = none)")
	cmd.Flags().IntVar(&f.timeoutBuild, "timeout-build", 0, "build phase timeout, seconds (0 = none)")
	cmd.Flags().IntVar(&f.timeoutTest, "timeout-test", 0, "test phase timeout, seconds (0 = none)")

	cmd.Flags().BoolVarP(&f.noRepoUpdate, "no-repo-update", "U", false, "never refresh the repository index")
	cmd.Flags().BoolVarP(&f.forceRepoUpdate, "force-repo-update", "u", false, "always refresh the repository index")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "accepted but has no effect: no shell is opened on failure")

	cmd.Flags().IntVar(&f.jobs, "jobs", 1, "bounded-parallel job count (default is sequential)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics at this address during a bulk run")

	cmd.AddCommand(historyCmd())
	return cmd
}

func (f *flags) networking() (build, test model.Networking, err error) {
	build, err = parseNetworking(f.networkingBuild)
	if err != nil {
		return "", "", fmt.Errorf("--networking-build: %w", err)
	}
	test, err = parseNetworking(f.networkingTest)
	if err != nil {
		return "", "", fmt.Errorf("--networking-test: %w", err)
	}
	return build, test, nil
}

func parseNetworking(s string) (model.Networking, error) {
	switch model.Networking(s) {
	case model.NetworkingDisabled, model.NetworkingRestricted, model.NetworkingUnrestricted:
		return model.Networking(s), nil
	default:
		return "", fmt.Errorf("invalid value %q", s)
	}
}

func parseCompression(s string) (model.PackageCompression, error) {
	switch model.PackageCompression(s) {
	case model.CompressionNone, model.CompressionFast, model.CompressionDefault, model.CompressionBest:
		return model.PackageCompression(s), nil
	default:
		return "", fmt.Errorf("--package-compression: invalid value %q", s)
	}
}

func applyLogLevel(f *flags) {
	rlog.SetDebug(f.debug)
	rlog.SetQuiet(f.quiet)
}
