package context

import (
	"fmt"
	"runtime/debug"
)

// VersionInfo contains the application version metadata embedded by the Go
// toolchain.
type VersionInfo struct {
	Version  string
	Revision string
	Dirty    bool
}

// GetVersion returns the version metadata of the running binary.
func GetVersion() (*VersionInfo, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("failed reading build information")
	}

	v := &VersionInfo{Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Revision = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}

	return v, nil
}

// String implements the fmt.Stringer interface.
func (v *VersionInfo) String() string {
	out := v.Version
	if v.Revision != "" {
		rev := v.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		out = fmt.Sprintf("%s (%s)", out, rev)
	}
	if v.Dirty {
		out += " dirty"
	}
	return out
}
