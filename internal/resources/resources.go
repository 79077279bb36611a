// Package resources is the sole cleanup entry point for a job: given a
// prefix path, it finds every live sandbox and mount rooted under it
// and destroys them in an order safe for teardown — sandboxes first
// (to release mount references), then mounts deepest-first. Grounded
// on the teacher's BSDEnvironment.listRemainingMounts idea of checking
// live system state rather than trusting in-memory bookkeeping alone.
package resources

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"reprise/internal/execx"
	"reprise/internal/rlog"
)

// Sandbox describes one live jail for enumeration purposes.
type Sandbox struct {
	ID   int
	Root string
}

// MountPoint describes one live mount for enumeration purposes.
type MountPoint struct {
	Target string
}

// Live is the result of enumerating resources under a prefix.
type Live struct {
	Sandboxes []Sandbox
	Mounts    []MountPoint
}

// Enumerate returns all live sandboxes whose root is under prefix and
// all live mounts whose target is under prefix, with mounts sorted
// deepest-first.
func Enumerate(ctx context.Context, prefix string) (*Live, error) {
	sandboxes, err := liveSandboxes(ctx, prefix)
	if err != nil {
		return nil, err
	}
	mounts, err := liveMounts(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(mounts, func(i, j int) bool {
		return strings.Count(mounts[i].Target, "/") > strings.Count(mounts[j].Target, "/")
	})
	return &Live{Sandboxes: sandboxes, Mounts: mounts}, nil
}

func liveSandboxes(ctx context.Context, prefix string) ([]Sandbox, error) {
	res, err := execx.Execute(ctx, "jls", []string{"-N", "jid", "path"}, execx.Options{AllowFailure: true})
	if err != nil {
		return nil, err
	}
	var out []Sandbox
	for _, line := range res.Stdout {
		id, path, ok := parseJlsLine(line)
		if ok && strings.HasPrefix(path, prefix) {
			out = append(out, Sandbox{ID: id, Root: path})
		}
	}
	return out, nil
}

// parseJlsLine handles the plain "jid path" two-column output of
// `jls -N jid path`.
func parseJlsLine(line string) (int, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, "", false
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return id, fields[1], true
}

func liveMounts(ctx context.Context, prefix string) ([]MountPoint, error) {
	res, err := execx.Execute(ctx, "mount", nil, execx.Options{})
	if err != nil {
		return nil, err
	}
	var out []MountPoint
	for _, line := range res.Stdout {
		fields := strings.Fields(line)
		// BSD mount(8) output: "<src> on <target> (<opts>)"
		for i, f := range fields {
			if f == "on" && i+1 < len(fields) {
				target := fields[i+1]
				if strings.HasPrefix(target, prefix) {
					out = append(out, MountPoint{Target: target})
				}
				break
			}
		}
	}
	return out, nil
}

// Destroyer tears down one Live snapshot: sandboxes first, then mounts
// deepest-first.
type Destroyer struct {
	DestroySandbox func(ctx context.Context, id int) error
	DestroyMount   func(ctx context.Context, target string) error
}

// DestroyAll tears down everything in live, logging but not failing on
// individual teardown errors (they are surfaced but do not stop the
// sweep — a partial cleanup is still better than none).
func (d *Destroyer) DestroyAll(ctx context.Context, live *Live) []error {
	var errs []error
	log := rlog.With("component", "resources")
	for _, s := range live.Sandboxes {
		if err := d.DestroySandbox(ctx, s.ID); err != nil {
			log.Warnf("destroy sandbox %d: %v", s.ID, err)
			errs = append(errs, err)
		}
	}
	for _, m := range live.Mounts {
		if err := d.DestroyMount(ctx, m.Target); err != nil {
			log.Warnf("destroy mount %s: %v", m.Target, err)
			errs = append(errs, err)
		}
	}
	return errs
}
