// Package version reports build metadata of the contractscan binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set by the linker: -ldflags "-X .../pkg/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const develVersion = "(devel)"

// InitBinaryVersion fills values the linker left unset from the module
// build info embedded by the Go toolchain.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	fill(info)
}

func fill(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != develVersion {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "none" {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String formats the version line printed by the version command.
func String() string {
	return fmt.Sprintf("contractscan %s (commit: %s, built: %s)", Version, Commit, Date)
}
