// Package archive builds zip packages in memory and installs them atomically.
//
// Build never touches the output path, so a failed run leaves no partial archive.
// Install replaces the target in a single rename after a SHA-512 check.
package archive
