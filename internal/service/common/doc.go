// Package common holds helpers shared by several services.
//
// It detects the host recorded in package descriptions and guards a directory
// against concurrent packager runs with a PID marker file.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
