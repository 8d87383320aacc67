// Package buildinfo exposes the module's version and VCS build metadata,
// grounded on doismellburning-samoyed/src/version.go's use of
// runtime/debug.ReadBuildInfo for reading VCS metadata without ldflags;
// Version itself comes from -ldflags when set.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// Version is set at build time via -ldflags "-X
// github.com/minorsecond/AXTerm-sub008/internal/buildinfo.Version=X".
var Version string

// AppTocall identifies this software in the AX.25 destination field, the
// way direwolf's APP_TOCALL does for APRS.
const AppTocall = "AXTM"

func settingOrDefault(bi *debug.BuildInfo, key, fallback string) string {
	if bi == nil {
		return fallback
	}

	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}

	return fallback
}

// String returns a human-readable "name - Version X (revision Y, built at
// Z)" line, appending "-DIRTY" to the revision when the working tree had
// uncommitted changes at build time.
func String() string {
	bi, _ := debug.ReadBuildInfo()

	buildTime := settingOrDefault(bi, "vcs.time", "UNKNOWN")
	commit := settingOrDefault(bi, "vcs.revision", "UNKNOWN")
	dirtyStr := settingOrDefault(bi, "vcs.modified", "INVALID")

	dirty, err := strconv.ParseBool(dirtyStr)
	switch {
	case err == nil && dirty:
		commit += "-DIRTY"
	case err != nil:
		commit += "-UNKNOWNDIRTY"
	}

	version := Version
	if version == "" {
		version = "!UNKNOWN!"
	}

	return fmt.Sprintf("AXTerm - Version %s (revision %s, built at %s)", version, commit, buildTime)
}
