// Package mount provides bind, devfs, and memory-filesystem mount
// primitives, generalized from the teacher's fixed 27-mount chroot
// layout (environment/bsd/mounts.go) into parameterised constructors.
// Each returns a Mount handle whose Destroy issues a forced unmount;
// Destroy is idempotent.
package mount

import (
	"context"
	"fmt"
	"sync"

	"reprise/internal/execx"
)

// Mount is a live mount point; Destroy tears it down.
type Mount struct {
	Target string
	kind   string

	mu        sync.Mutex
	destroyed bool
}

// Destroy forcibly unmounts Target. Safe to call more than once.
func (m *Mount) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	_, err := execx.Execute(ctx, "umount", []string{"-f", m.Target}, execx.Options{AllowFailure: true})
	m.destroyed = true
	return err
}

// MountBind bind-mounts src onto dst, read-only or read-write.
func MountBind(ctx context.Context, src, dst string, readonly bool) (*Mount, error) {
	args := []string{"-t", "nullfs"}
	if readonly {
		args = append(args, "-o", "ro")
	} else {
		args = append(args, "-o", "rw")
	}
	args = append(args, src, dst)
	if _, err := execx.Execute(ctx, "mount", args, execx.Options{}); err != nil {
		return nil, fmt.Errorf("mount bind %s -> %s: %w", src, dst, err)
	}
	return &Mount{Target: dst, kind: "nullfs"}, nil
}

// MountDevfs populates a minimal device-node filesystem at dst under the
// jail ruleset.
func MountDevfs(ctx context.Context, dst string) (*Mount, error) {
	args := []string{"-t", "devfs", "devfs", dst}
	if _, err := execx.Execute(ctx, "mount", args, execx.Options{}); err != nil {
		return nil, fmt.Errorf("mount devfs %s: %w", dst, err)
	}
	return &Mount{Target: dst, kind: "devfs"}, nil
}

// MountMemfs mounts an in-memory filesystem at dst; byteLimit of zero
// means unbounded (host-dependent, per spec.md §9 open question).
func MountMemfs(ctx context.Context, dst string, byteLimit int64) (*Mount, error) {
	args := []string{"-t", "tmpfs"}
	if byteLimit > 0 {
		args = append(args, "-o", fmt.Sprintf("size=%d", byteLimit))
	}
	args = append(args, "tmpfs", dst)
	if _, err := execx.Execute(ctx, "mount", args, execx.Options{}); err != nil {
		return nil, fmt.Errorf("mount memfs %s: %w", dst, err)
	}
	return &Mount{Target: dst, kind: "tmpfs"}, nil
}
