// Package config loads reprise's YAML configuration file: the set of
// named jails (version/arch/tags) a bulk run or `-j` flag can refer
// to, plus path and default-behavior settings. Grounded on the
// teacher's config.LoadConfig search-order and defaulting style
// (config/config.go), but reimplemented around gopkg.in/yaml.v3 rather
// than the teacher's hand-rolled bufio INI parser — see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// JailConfig is one named entry under the top-level `jails` map.
type JailConfig struct {
	Version string   `yaml:"version"`
	Arch    string   `yaml:"arch"`
	Tags    []string `yaml:"tags,omitempty"`
}

// Config is the parsed reprise.conf.
type Config struct {
	PortsDir        string                `yaml:"ports_dir"`
	DistFilesDir    string                `yaml:"distfiles_dir"`
	WorkDir         string                `yaml:"workdir"`
	RepositoryBase  string                `yaml:"repository_base"`
	ZFSRoot         string                `yaml:"zfs_root"`
	DNSServer       string                `yaml:"dns_server"`
	TmpfsLimitMB    int                   `yaml:"tmpfs_limit_mb"`
	Jails           map[string]JailConfig `yaml:"jails"`

	path string
}

// defaultPaths returns the search order: $XDG_CONFIG_HOME/reprise,
// $HOME/.config/reprise, then the compile-time etc dir, per spec.md §6.
func defaultPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "reprise", "reprise.conf"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reprise", "reprise.conf"))
	}
	paths = append(paths, "/usr/local/etc/reprise/reprise.conf")
	return paths
}

// Load searches the default locations (or explicitPath, if non-empty)
// and parses the first file found.
func Load(explicitPath string) (*Config, error) {
	candidates := []string{explicitPath}
	if explicitPath == "" {
		candidates = defaultPaths()
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
		cfg := &Config{path: p}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
		cfg.applyDefaults()
		return cfg, nil
	}

	return nil, fmt.Errorf("config: no config file found (searched %v)", candidates)
}

func (c *Config) applyDefaults() {
	if c.DNSServer == "" {
		c.DNSServer = "9.9.9.9"
	}
	if c.ZFSRoot == "" {
		c.ZFSRoot = "zroot/reprise"
	}
}

// Path returns the config file path actually loaded.
func (c *Config) Path() string { return c.path }

// Jail looks up a named jail tag, as used by `-j/--jails`.
func (c *Config) Jail(name string) (JailConfig, bool) {
	j, ok := c.Jails[name]
	return j, ok
}
