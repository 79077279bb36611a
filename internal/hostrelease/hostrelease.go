// Package hostrelease discovers the running host's OS release and
// architecture via uname(2), used to pick a default model.JailSpec when
// the CLI or config file doesn't name one. Grounded on the teacher's
// config.GetSystemInfo (golang.org/x/sys/unix.Uname, trimming the
// fixed-size NUL-padded byte arrays).
package hostrelease

import (
	"strings"

	"golang.org/x/sys/unix"
)

// Info is the host's OS identity as reported by uname(2).
type Info struct {
	System  string // "FreeBSD", "DragonFly"
	Release string // e.g. "14.1-RELEASE"
	Arch    string // e.g. "amd64"
}

// Discover reads the host's uname(2) fields.
func Discover() (Info, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Info{}, err
	}
	return Info{
		System:  trimNul(uts.Sysname[:]),
		Release: trimNul(uts.Release[:]),
		Arch:    trimNul(uts.Machine[:]),
	}, nil
}

func trimNul(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}
