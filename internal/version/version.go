// Package version reports which hamdam build is running. Release builds set
// the variables with -ldflags:
//
//	go build -ldflags "-X github.com/54b3r/hamdam-go/internal/version.Version=v0.3.0 \
//	  -X github.com/54b3r/hamdam-go/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/54b3r/hamdam-go/internal/version.BuildDate=$(date -u +%Y-%m-%d)" ./cmd/hamdam
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release tag, "dev" for local builds. GET /api/health
	// reports it.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the UTC build date.
	BuildDate = "unknown"
)

// String renders the build info on one line for `hamdam version` and logs.
func String() string {
	return fmt.Sprintf("hamdam %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
