package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
ports_dir: /usr/ports
distfiles_dir: /var/cache/distfiles
zfs_root: zroot/reprise
dns_server: 1.1.1.1
jails:
  14amd64:
    version: "14.1-RELEASE"
    arch: amd64
    tags: ["default"]
`

func TestLoad_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reprise.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/ports", cfg.PortsDir)
	assert.Equal(t, "1.1.1.1", cfg.DNSServer)

	j, ok := cfg.Jail("14amd64")
	require.True(t, ok)
	assert.Equal(t, "14.1-RELEASE", j.Version)
	assert.Equal(t, "amd64", j.Arch)
	assert.Equal(t, []string{"default"}, j.Tags)

	_, ok = cfg.Jail("nonexistent")
	assert.False(t, ok)
}

func TestLoad_DefaultsAppliedWhenOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reprise.conf")
	require.NoError(t, os.WriteFile(path, []byte("ports_dir: /usr/ports\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", cfg.DNSServer)
	assert.Equal(t, "zroot/reprise", cfg.ZFSRoot)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.Error(t, err)
}
