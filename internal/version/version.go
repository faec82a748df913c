// Package version reports the build of the searchsync binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	AppName    = "searchsync"
	devVersion = "0.1.0-dev"
)

// Set with -ldflags "-X github.com/openmined/searchsync/internal/version.Version=..."
var (
	Version   = devVersion
	Revision  = ""
	BuildDate = ""
)

// Info describes the running build.
type Info struct {
	Version   string
	Revision  string
	BuildDate string
	GoVersion string
	Platform  string
}

// Current merges the ldflags values with the module build metadata. Ldflags win.
func Current() Info {
	info := Info{
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withBuildInfo(bi.Main.Version, bi.Settings)
	}
	if info.Revision == "" {
		info.Revision = "unknown"
	}
	return info
}

func (i Info) withBuildInfo(mainVersion string, settings []debug.BuildSetting) Info {
	if i.Version == devVersion && mainVersion != "" && mainVersion != "(devel)" {
		i.Version = strings.TrimPrefix(mainVersion, "v")
	}

	vcs := map[string]string{}
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}
	if i.Revision == "" && vcs["vcs.revision"] != "" {
		i.Revision = shortRevision(vcs["vcs.revision"])
		if vcs["vcs.modified"] == "true" {
			i.Revision += "-dirty"
		}
	}
	if i.BuildDate == "" {
		i.BuildDate = vcs["vcs.time"]
	}
	return i
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String renders `0.1.0 (5e23a4c1d2e3; go1.23.6; linux/amd64; 2025-01-02T10:00:00Z)`.
func (i Info) String() string {
	parts := []string{i.Revision, i.GoVersion, i.Platform}
	if i.BuildDate != "" {
		parts = append(parts, i.BuildDate)
	}
	return fmt.Sprintf("%s (%s)", i.Version, strings.Join(parts, "; "))
}

// Detailed is the string printed by `searchsync version`.
func Detailed() string {
	return Current().String()
}

// UserAgent is sent with every request to the search API.
func UserAgent() string {
	i := Current()
	return fmt.Sprintf("%s/%s (%s; %s)", AppName, i.Version, i.GoVersion, i.Platform)
}
