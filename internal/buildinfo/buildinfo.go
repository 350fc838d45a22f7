// Package buildinfo holds build-time metadata injected via -ldflags.
package buildinfo

// Inject via:
//
//	-X github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/buildinfo.Version=v1.2.0
//	-X github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/buildinfo.Commit=$(git rev-parse HEAD)
var (
	Version   = ""
	Commit    = ""
	BuildDate = ""
)

// Release identifies the build for error reports, e.g. "v1.2.0+3f2a9c1".
// Returns "dev" for builds without injected metadata.
func Release() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	if len(Commit) >= 7 {
		return v + "+" + Commit[:7]
	}
	return v
}
