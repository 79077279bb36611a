// Package model holds the data types shared across reprise's
// subsystems: Port, PackageInfo, RepositoryMetadata, JailSpec,
// PreparedJail, JobSpec, and JobResult.
package model

import "fmt"

// Port identifies a port by its origin (category/name) and an optional
// flavor. Two ports are equal iff both components are equal. Immutable
// after construction.
type Port struct {
	Origin string
	Flavor string
}

// NewPort constructs a Port, normalizing an empty flavor.
func NewPort(origin, flavor string) Port {
	return Port{Origin: origin, Flavor: flavor}
}

// String renders "category/name" or "category/name@flavor".
func (p Port) String() string {
	if p.Flavor == "" {
		return p.Origin
	}
	return fmt.Sprintf("%s@%s", p.Origin, p.Flavor)
}

// Equal reports whether two ports have the same origin and flavor.
func (p Port) Equal(o Port) bool {
	return p.Origin == o.Origin && p.Flavor == o.Flavor
}
