// Package version contains build metadata set via -ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/ianampudia11/mecom-sub003/internal/version.Version=1.2.0"
var (
	Version   = "0.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the JSON shape served by /version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{Version: Version, Commit: GitCommit, BuildDate: BuildDate}
}
