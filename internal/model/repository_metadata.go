package model

import "time"

// IndexSchemaTag must match between an on-disk index and the code that
// reads it; a mismatch forces a clean re-fetch (spec.md §4.7/§9).
const IndexSchemaTag = "reprise-index-v1"

// RepositoryMetadata is the parsed remote package index, with lookup
// indices by name, namever, and port built on load.
type RepositoryMetadata struct {
	SchemaTag  string
	ETag       string
	LastUpdate time.Time
	Packages   []PackageInfo

	byName    map[string]*PackageInfo
	byNameVer map[string]*PackageInfo
	byPort    map[Port]*PackageInfo
}

// NewRepositoryMetadata builds a RepositoryMetadata from a flat package
// list, constructing the three lookup indices.
func NewRepositoryMetadata(etag string, lastUpdate time.Time, packages []PackageInfo) *RepositoryMetadata {
	m := &RepositoryMetadata{
		SchemaTag:  IndexSchemaTag,
		ETag:       etag,
		LastUpdate: lastUpdate,
		Packages:   packages,
	}
	m.reindex()
	return m
}

func (m *RepositoryMetadata) reindex() {
	m.byName = make(map[string]*PackageInfo, len(m.Packages))
	m.byNameVer = make(map[string]*PackageInfo, len(m.Packages))
	m.byPort = make(map[Port]*PackageInfo, len(m.Packages))
	for i := range m.Packages {
		p := &m.Packages[i]
		m.byName[p.Name] = p
		m.byNameVer[p.NameVer()] = p
		m.byPort[p.Port()] = p
	}
}

// Reindex rebuilds the lookup indices; call after direct mutation of
// Packages (e.g. right after gob-decoding a RepositoryMetadata, whose
// unexported maps are never encoded).
func (m *RepositoryMetadata) Reindex() { m.reindex() }

// ByName looks up a package by bare name.
func (m *RepositoryMetadata) ByName(name string) (*PackageInfo, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// ByNameVer looks up a package by "name-version".
func (m *RepositoryMetadata) ByNameVer(nameVer string) (*PackageInfo, bool) {
	p, ok := m.byNameVer[nameVer]
	return p, ok
}

// ByPort looks up a package by (origin, flavor).
func (m *RepositoryMetadata) ByPort(port Port) (*PackageInfo, bool) {
	p, ok := m.byPort[port]
	return p, ok
}
