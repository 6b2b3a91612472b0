package packager

import "errors"

var (
	// ErrNoPackageName is returned when no primary manifest names the package and no output is given.
	ErrNoPackageName = errors.New("no package name in the primary manifest and no output specified, use -o to name the archive")
	// ErrEmptyFileSet is returned when the requested sets select no files.
	ErrEmptyFileSet = errors.New("no files found to package")
	// ErrMissingUserFile is returned when the user manifest lists a file that does not exist.
	ErrMissingUserFile = errors.New("file listed in the user manifest does not exist")
	// ErrMultiplePrimary is returned when more than one primary manifest is found.
	ErrMultiplePrimary = errors.New("more than one primary manifest")
	// ErrArchiveWrite is returned when the archive cannot be built or installed.
	ErrArchiveWrite = errors.New("write archive")
	// ErrUnsafePath is returned for absolute file paths or paths leaving the root.
	ErrUnsafePath = errors.New("file path leaves the package root")
)
