// Package jailtemplate implements the master template manager: it
// ensures a named master dataset exists, is populated from upstream
// release tarballs, and bears provenance properties, recreating it
// when the compliance check fails. Grounded on the teacher's
// BSDEnvironment.Setup template-copy step (cp -Rp Template/. baseDir),
// generalized per spec.md §4.6 into full recreate-from-release-tarball
// logic with provenance properties and a file lock.
package jailtemplate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reprise/internal/execx"
	"reprise/internal/filelock"
	"reprise/internal/model"
	"reprise/internal/rlog"
	"reprise/internal/zfs"
)

// JailEpoch is bumped to invalidate all existing templates on next run.
const JailEpoch = "1"

const cleanSnapshot = "clean"

// Fetcher downloads a release tarball (e.g. base.txz) to destPath.
type Fetcher interface {
	FetchReleaseTarball(ctx context.Context, spec model.JailSpec, name string, destPath string) error
}

// Manager ensures master templates exist and are up to date.
type Manager struct {
	Store     zfs.Store
	Root      string // root dataset, e.g. "zroot/reprise/jails"
	LockDir   string
	Fetcher   Fetcher
	log       rlog.Logger
}

// NewManager constructs a Manager rooted at root (e.g. "zroot/reprise/jails").
func NewManager(store zfs.Store, root, lockDir string, fetcher Fetcher) *Manager {
	return &Manager{Store: store, Root: root, LockDir: lockDir, Fetcher: fetcher, log: rlog.With("component", "jailtemplate")}
}

func (m *Manager) datasetName(spec model.JailSpec) string {
	return fmt.Sprintf("%s/%s", m.Root, spec.Name)
}

func (m *Manager) packagesDatasetName(spec model.JailSpec) string {
	return fmt.Sprintf("%s/%s-packages", m.Root, spec.Name)
}

// Ensure returns a PreparedJail for spec, recreating the template if it
// is missing or its provenance properties don't match the current
// expectation.
func (m *Manager) Ensure(ctx context.Context, spec model.JailSpec) (*model.PreparedJail, error) {
	lockPath := filepath.Join(m.LockDir, "jail-"+spec.Name+".lock")
	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	ds := zfs.NewDataset(m.Store, m.datasetName(spec))
	exists, err := ds.Exists(ctx)
	if err != nil {
		return nil, err
	}

	needsRecreate := !exists
	if exists {
		compliant, err := m.isCompliant(ctx, ds, spec)
		if err != nil {
			return nil, err
		}
		needsRecreate = !compliant
	}

	if needsRecreate {
		if exists {
			m.log.Infof("template %s out of compliance, recreating", spec.Name)
			if err := ds.Destroy(ctx); err != nil {
				return nil, err
			}
		}
		if err := m.recreate(ctx, ds, spec); err != nil {
			return nil, err
		}
	}

	pkgDs := zfs.NewDataset(m.Store, m.packagesDatasetName(spec))
	if pkgExists, err := pkgDs.Exists(ctx); err != nil {
		return nil, err
	} else if !pkgExists {
		if err := pkgDs.Create(ctx, true, nil); err != nil {
			return nil, err
		}
	}

	return &model.PreparedJail{
		MasterDataset:   ds.Name(),
		PackagesDataset: pkgDs.Name(),
	}, nil
}

func (m *Manager) isCompliant(ctx context.Context, ds *zfs.Dataset, spec model.JailSpec) (bool, error) {
	epoch, ok, err := ds.GetPropertyMaybe(ctx, "reprise:jail_ready_epoch")
	if err != nil || !ok || epoch != JailEpoch {
		return false, err
	}
	version, ok, err := ds.GetPropertyMaybe(ctx, "reprise:jail_version")
	if err != nil || !ok || version != spec.Version {
		return false, err
	}
	arch, ok, err := ds.GetPropertyMaybe(ctx, "reprise:jail_arch")
	if err != nil || !ok || arch != spec.Arch {
		return false, err
	}
	return true, nil
}

func (m *Manager) recreate(ctx context.Context, ds *zfs.Dataset, spec model.JailSpec) error {
	if err := ds.Create(ctx, true, nil); err != nil {
		return err
	}
	if err := ds.ResolveMountpoint(ctx); err != nil {
		return err
	}
	mountpoint, err := ds.GetPath()
	if err != nil {
		return err
	}

	tarballPath := filepath.Join(os.TempDir(), fmt.Sprintf("reprise-base-%s-%s.txz", spec.Version, spec.Arch))
	if err := m.Fetcher.FetchReleaseTarball(ctx, spec, "base.txz", tarballPath); err != nil {
		return fmt.Errorf("jailtemplate: fetch base.txz: %w", err)
	}
	defer os.Remove(tarballPath)

	if _, err := execx.Execute(ctx, "tar", []string{"-xpf", tarballPath, "-C", mountpoint}, execx.Options{}); err != nil {
		return fmt.Errorf("jailtemplate: extract base.txz: %w", err)
	}

	if err := m.patchLoginConf(mountpoint, spec); err != nil {
		return err
	}

	if _, err := execx.Execute(ctx, "cap_mkdb", []string{filepath.Join(mountpoint, "etc/login.conf")}, execx.Options{}); err != nil {
		return fmt.Errorf("jailtemplate: cap_mkdb: %w", err)
	}

	if err := ds.Snapshot(ctx, cleanSnapshot, false); err != nil {
		return err
	}

	if err := ds.SetProperty(ctx, "reprise:jail_ready_epoch", JailEpoch); err != nil {
		return err
	}
	if err := ds.SetProperty(ctx, "reprise:jail_version", spec.Version); err != nil {
		return err
	}
	if err := ds.SetProperty(ctx, "reprise:jail_arch", spec.Arch); err != nil {
		return err
	}
	return nil
}

// patchLoginConf adds UNAME_r, UNAME_v, UNAME_m, UNAME_p, and the
// extracted OSVERSION to the "default" login class's setenv entry.
func (m *Manager) patchLoginConf(mountpoint string, spec model.JailSpec) error {
	osVersion, err := readOSVersion(filepath.Join(mountpoint, "usr/include/sys/param.h"))
	if err != nil {
		m.log.Warnf("jailtemplate: could not read OSVERSION: %v", err)
		osVersion = "0"
	}

	loginConfPath := filepath.Join(mountpoint, "etc/login.conf")
	data, err := os.ReadFile(loginConfPath)
	if err != nil {
		return fmt.Errorf("jailtemplate: read login.conf: %w", err)
	}

	setenv := fmt.Sprintf("UNAME_r=%s,UNAME_v=FreeBSD %s,UNAME_m=%s,UNAME_p=%s,OSVERSION=%s",
		spec.Version, spec.Version, spec.Arch, spec.Arch, osVersion)

	patched := patchDefaultSetenv(string(data), setenv)
	return os.WriteFile(loginConfPath, []byte(patched), 0644)
}

// patchDefaultSetenv appends extra setenv entries to the "default"
// class's :setenv= line.
func patchDefaultSetenv(conf, extra string) string {
	lines := strings.Split(conf, "\n")
	inDefault := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "default:") {
			inDefault = true
		}
		if inDefault && strings.Contains(trimmed, ":setenv=") {
			lines[i] = strings.TrimRight(line, ":\\") + "," + extra + ":\\"
			inDefault = false
		}
	}
	return strings.Join(lines, "\n")
}

func readOSVersion(paramHPath string) (string, error) {
	data, err := os.ReadFile(paramHPath)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "#define") && strings.Contains(line, "__FreeBSD_version") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				return fields[2], nil
			}
		}
	}
	return "", fmt.Errorf("OSVERSION not found in %s", paramHPath)
}
