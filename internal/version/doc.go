// Package version exposes build metadata for the packager.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Full is printed by the version command and recorded in every package.
package version
