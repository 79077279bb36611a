// Package mockzfs implements zfs.Store without a real ZFS pool,
// mirroring the jail package's mockjail pattern (and, further back,
// the teacher's environment.MockEnvironment) so dataset logic can be
// unit-tested without root. The job runner still needs real jails,
// mounts and commands, so it is not testable with this store alone.
package mockzfs

import (
	"context"
	"fmt"
	"sync"

	"reprise/internal/zfs"
)

type dataset struct {
	properties map[string]string
	snapshots  map[string]bool
	mountpoint string
	mounted    bool
}

// Store is an in-memory zfs.Store.
type Store struct {
	mu       sync.Mutex
	datasets map[string]*dataset

	// MountpointPrefix roots every dataset's simulated mountpoint, e.g.
	// "/tmp/reprise-test".
	MountpointPrefix string

	Calls []string
}

func New(mountpointPrefix string) *Store {
	return &Store{datasets: make(map[string]*dataset), MountpointPrefix: mountpointPrefix}
}

func (s *Store) record(call string) { s.Calls = append(s.Calls, call) }

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("exists " + name)
	_, ok := s.datasets[name]
	return ok, nil
}

func (s *Store) Create(ctx context.Context, name string, parents bool, properties map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create " + name)
	ds := &dataset{
		properties: map[string]string{},
		snapshots:  map[string]bool{},
		mountpoint: s.MountpointPrefix + "/" + name,
		mounted:    true,
	}
	for k, v := range properties {
		ds.properties[k] = v
	}
	s.datasets[name] = ds
	return nil
}

func (s *Store) Destroy(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("destroy " + name)
	delete(s.datasets, name)
	return nil
}

func (s *Store) Snapshot(ctx context.Context, name, snapshot string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return fmt.Errorf("mockzfs: no such dataset %s", name)
	}
	ds.snapshots[snapshot] = true
	return nil
}

func (s *Store) Rollback(ctx context.Context, name, snapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok || !ds.snapshots[snapshot] {
		return fmt.Errorf("mockzfs: no such snapshot %s@%s", name, snapshot)
	}
	return nil
}

func (s *Store) CloneFrom(ctx context.Context, source, snapshot, dest string, parents bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("clone %s@%s -> %s", source, snapshot, dest))
	src, ok := s.datasets[source]
	if !ok || !src.snapshots[snapshot] {
		return fmt.Errorf("mockzfs: no such snapshot %s@%s", source, snapshot)
	}
	s.datasets[dest] = &dataset{
		properties: map[string]string{},
		snapshots:  map[string]bool{},
		mountpoint: s.MountpointPrefix + "/" + dest,
		mounted:    true,
	}
	return nil
}

func (s *Store) DestroySnapshot(ctx context.Context, name, snapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return fmt.Errorf("mockzfs: no such dataset %s", name)
	}
	delete(ds.snapshots, snapshot)
	return nil
}

func (s *Store) GetProperty(ctx context.Context, name, prop string) (string, error) {
	v, ok, err := s.GetPropertyMaybe(ctx, name, prop)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("mockzfs: property %s not set on %s", prop, name)
	}
	return v, nil
}

func (s *Store) GetPropertyMaybe(ctx context.Context, name, prop string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return "", false, fmt.Errorf("mockzfs: no such dataset %s", name)
	}
	v, ok := ds.properties[prop]
	return v, ok, nil
}

func (s *Store) SetProperty(ctx context.Context, name, prop, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return fmt.Errorf("mockzfs: no such dataset %s", name)
	}
	ds.properties[prop] = value
	return nil
}

func (s *Store) GetChildren(ctx context.Context, name string, recursive bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	prefix := name + "/"
	for n := range s.datasets {
		if len(n) > len(prefix) && n[:len(prefix)] == prefix {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) GetChildrenProperties(ctx context.Context, name string, recursive bool, props []string) (map[string]map[string]string, error) {
	children, err := s.GetChildren(ctx, name, recursive)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]string, len(children))
	for _, c := range children {
		ds := s.datasets[c]
		vals := make(map[string]string, len(props))
		for _, p := range props {
			if v, ok := ds.properties[p]; ok {
				vals[p] = v
			}
		}
		out[c] = vals
	}
	return out, nil
}

func (s *Store) ResolveMountpoint(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return "", fmt.Errorf("mockzfs: no such dataset %s", name)
	}
	if !ds.mounted {
		return "", fmt.Errorf("mockzfs: dataset %s not mounted", name)
	}
	return ds.mountpoint, nil
}

var _ zfs.Store = (*Store)(nil)
