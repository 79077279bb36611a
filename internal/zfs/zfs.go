// Package zfs models a copy-on-write dataset tree as a thin wrapper
// over the zfs(8)/zpool(8) command line, grounded on the teacher's
// pattern of shelling out to BSD utilities (environment/bsd) rather
// than binding libzfs directly — the spec's dataset operations (create,
// destroy, snapshot, rollback, clone, property get/set) map one-to-one
// onto zfs(8) subcommands, so there is no need for anything heavier.
package zfs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reprise/internal/execx"
	"reprise/internal/rlog"
)

// Store runs zfs(8) operations scoped under a root dataset name.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string, parents bool, properties map[string]string) error
	Destroy(ctx context.Context, name string) error
	Snapshot(ctx context.Context, name, snapshot string, recursive bool) error
	Rollback(ctx context.Context, name, snapshot string) error
	CloneFrom(ctx context.Context, source, snapshot, dest string, parents bool) error
	DestroySnapshot(ctx context.Context, name, snapshot string) error
	GetProperty(ctx context.Context, name, prop string) (string, error)
	GetPropertyMaybe(ctx context.Context, name, prop string) (string, bool, error)
	SetProperty(ctx context.Context, name, prop, value string) error
	GetChildren(ctx context.Context, name string, recursive bool) ([]string, error)
	GetChildrenProperties(ctx context.Context, name string, recursive bool, props []string) (map[string]map[string]string, error)
	ResolveMountpoint(ctx context.Context, name string) (string, error)
}

// Dataset is a handle on a single named dataset. Its path is only
// available after ResolveMountpoint succeeds.
type Dataset struct {
	store     Store
	name      string
	mountpath string
	resolved  bool
}

// NewDataset wraps name with store for dataset operations.
func NewDataset(store Store, name string) *Dataset {
	return &Dataset{store: store, name: name}
}

func (d *Dataset) String() string { return d.name }
func (d *Dataset) Name() string   { return d.name }

// GetPath returns the dataset's mountpoint; it fails if
// ResolveMountpoint has not yet succeeded.
func (d *Dataset) GetPath() (string, error) {
	if !d.resolved {
		return "", fmt.Errorf("zfs: dataset %s: mountpoint not resolved", d.name)
	}
	return d.mountpath, nil
}

func (d *Dataset) Exists(ctx context.Context) (bool, error) { return d.store.Exists(ctx, d.name) }

func (d *Dataset) Create(ctx context.Context, parents bool, properties map[string]string) error {
	return d.store.Create(ctx, d.name, parents, properties)
}

// Destroy recursively and forcibly destroys the dataset, retrying with
// backoff on transient "dataset busy" errors.
func (d *Dataset) Destroy(ctx context.Context) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.store.Destroy(ctx, d.name)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientBusy(err) {
			return err
		}
		rlog.Global().Warnf("zfs: destroy %s busy, retrying (%d/%d): %v", d.name, attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}

func (d *Dataset) Snapshot(ctx context.Context, name string, recursive bool) error {
	return d.store.Snapshot(ctx, d.name, name, recursive)
}

func (d *Dataset) Rollback(ctx context.Context, name string) error {
	return d.store.Rollback(ctx, d.name, name)
}

// CloneFrom clones this dataset from source@snapshot.
func (d *Dataset) CloneFrom(ctx context.Context, source *Dataset, snapshot string, parents bool) error {
	return d.store.CloneFrom(ctx, source.name, snapshot, d.name, parents)
}

func (d *Dataset) DestroySnapshot(ctx context.Context, name string) error {
	return d.store.DestroySnapshot(ctx, d.name, name)
}

func (d *Dataset) GetProperty(ctx context.Context, prop string) (string, error) {
	return d.store.GetProperty(ctx, d.name, prop)
}

func (d *Dataset) GetPropertyMaybe(ctx context.Context, prop string) (string, bool, error) {
	return d.store.GetPropertyMaybe(ctx, d.name, prop)
}

func (d *Dataset) SetProperty(ctx context.Context, prop, value string) error {
	return d.store.SetProperty(ctx, d.name, prop, value)
}

func (d *Dataset) GetChildren(ctx context.Context, recursive bool) ([]string, error) {
	return d.store.GetChildren(ctx, d.name, recursive)
}

func (d *Dataset) GetChildrenProperties(ctx context.Context, recursive bool, props []string) (map[string]map[string]string, error) {
	return d.store.GetChildrenProperties(ctx, d.name, recursive, props)
}

// ResolveMountpoint reads the mountpoint/mounted properties and caches
// the path, only if mounted==yes and the path is absolute.
func (d *Dataset) ResolveMountpoint(ctx context.Context) error {
	path, err := d.store.ResolveMountpoint(ctx, d.name)
	if err != nil {
		return err
	}
	d.mountpath = path
	d.resolved = true
	return nil
}

func isTransientBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "dataset is busy")
}

// CmdStore is the production Store implementation, invoking zfs(8).
type CmdStore struct{}

func NewCmdStore() *CmdStore { return &CmdStore{} }

func (s *CmdStore) run(ctx context.Context, args ...string) (*execx.Result, error) {
	return execx.Execute(ctx, "zfs", args, execx.Options{})
}

func (s *CmdStore) Exists(ctx context.Context, name string) (bool, error) {
	res, err := execx.Execute(ctx, "zfs", []string{"list", "-H", "-o", "name", name}, execx.Options{AllowFailure: true})
	if err != nil {
		return false, err
	}
	return len(res.Stdout) > 0, nil
}

func (s *CmdStore) Create(ctx context.Context, name string, parents bool, properties map[string]string) error {
	args := []string{"create"}
	if parents {
		args = append(args, "-p")
	}
	for k, v := range properties {
		args = append(args, "-o", k+"="+v)
	}
	args = append(args, name)
	_, err := s.run(ctx, args...)
	return err
}

func (s *CmdStore) Destroy(ctx context.Context, name string) error {
	_, err := s.run(ctx, "destroy", "-r", "-f", name)
	return err
}

func (s *CmdStore) Snapshot(ctx context.Context, name, snapshot string, recursive bool) error {
	args := []string{"snapshot"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, name+"@"+snapshot)
	_, err := s.run(ctx, args...)
	return err
}

func (s *CmdStore) Rollback(ctx context.Context, name, snapshot string) error {
	_, err := s.run(ctx, "rollback", name+"@"+snapshot)
	return err
}

func (s *CmdStore) CloneFrom(ctx context.Context, source, snapshot, dest string, parents bool) error {
	args := []string{"clone"}
	if parents {
		args = append(args, "-p")
	}
	args = append(args, source+"@"+snapshot, dest)
	_, err := s.run(ctx, args...)
	return err
}

func (s *CmdStore) DestroySnapshot(ctx context.Context, name, snapshot string) error {
	_, err := s.run(ctx, "destroy", name+"@"+snapshot)
	return err
}

func (s *CmdStore) GetProperty(ctx context.Context, name, prop string) (string, error) {
	res, err := execx.Execute(ctx, "zfs", []string{"get", "-H", "-o", "value", prop, name}, execx.Options{})
	if err != nil {
		return "", err
	}
	if len(res.Stdout) == 0 {
		return "", fmt.Errorf("zfs: property %s not found on %s", prop, name)
	}
	return res.Stdout[0], nil
}

func (s *CmdStore) GetPropertyMaybe(ctx context.Context, name, prop string) (string, bool, error) {
	res, err := execx.Execute(ctx, "zfs", []string{"get", "-H", "-o", "value", prop, name}, execx.Options{AllowFailure: true})
	if err != nil {
		return "", false, err
	}
	if len(res.Stdout) == 0 || res.Stdout[0] == "-" {
		return "", false, nil
	}
	return res.Stdout[0], true, nil
}

func (s *CmdStore) SetProperty(ctx context.Context, name, prop, value string) error {
	_, err := s.run(ctx, "set", prop+"="+value, name)
	return err
}

func (s *CmdStore) GetChildren(ctx context.Context, name string, recursive bool) ([]string, error) {
	args := []string{"list", "-H", "-o", "name"}
	if recursive {
		args = append(args, "-r")
	} else {
		args = append(args, "-d", "1")
	}
	args = append(args, name)
	res, err := execx.Execute(ctx, "zfs", args, execx.Options{})
	if err != nil {
		return nil, err
	}
	var children []string
	for _, line := range res.Stdout {
		if line != name {
			children = append(children, line)
		}
	}
	return children, nil
}

func (s *CmdStore) GetChildrenProperties(ctx context.Context, name string, recursive bool, props []string) (map[string]map[string]string, error) {
	children, err := s.GetChildren(ctx, name, recursive)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(children))
	for _, c := range children {
		vals := make(map[string]string, len(props))
		for _, p := range props {
			v, ok, err := s.GetPropertyMaybe(ctx, c, p)
			if err != nil {
				return nil, err
			}
			if ok {
				vals[p] = v
			}
		}
		out[c] = vals
	}
	return out, nil
}

func (s *CmdStore) ResolveMountpoint(ctx context.Context, name string) (string, error) {
	mounted, err := s.GetProperty(ctx, name, "mounted")
	if err != nil {
		return "", err
	}
	if mounted != "yes" {
		return "", fmt.Errorf("zfs: dataset %s not mounted", name)
	}
	mp, err := s.GetProperty(ctx, name, "mountpoint")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mp, "/") {
		return "", fmt.Errorf("zfs: dataset %s has non-absolute mountpoint %q", name, mp)
	}
	return mp, nil
}
