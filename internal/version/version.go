package version

import "fmt"

// Set at build time:
// go build -ldflags "-X github.com/MikeSquared-Agency/Crucible/internal/version.Version=1.2.0"
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String is the one-line form printed by `crucible version` and /health.
func String() string {
	return fmt.Sprintf("crucible v%s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
