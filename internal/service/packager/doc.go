// Package packager builds a package archive from the manifest descriptors below a root.
//
// Select decides which files and descriptors a package holds without touching
// the filesystem. Run drives a whole packaging run: it loads and verifies every
// descriptor, applies the user manifest, asks before replacing an existing
// archive, re-signs sanitized descriptor copies and installs the archive atomically.
package packager
