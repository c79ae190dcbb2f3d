// Package appversion reports the ag3 build version.
package appversion

import "runtime/debug"

// version is set at build time via -ldflags "-X ag3/internal/appversion.version=v1.2.3".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the version, followed by the short VCS revision when the
// binary was built from a git checkout.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	if rev := revision(info.Settings); rev != "" {
		return version + " (" + rev + ")"
	}
	return version
}

func revision(settings []debug.BuildSetting) string {
	var (
		rev   string
		dirty bool
	)
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
