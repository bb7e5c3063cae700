// Package version holds the build version reported in commit trailers
// and the CLI.
package version

// Version is the stomper release version. Overridden at build time via
// -ldflags "-X github.com/stomperdev/stomper/internal/version.Version=...".
var Version = "0.4.0"
