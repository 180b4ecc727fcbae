// Package version carries build identification injected at link time via
// -ldflags "-X github.com/you/emojilens/internal/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
