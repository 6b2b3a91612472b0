package packager

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	domain "github.com/oshokin/manifest-packager/internal/domain/manifest"
)

const (
	// SetIn embeds the packager itself and the sanitized descriptors.
	SetIn = "in"
	// SetOut adds the description file; manifests declaring it always travel with the package.
	SetOut = "out"

	// archiveExtension is appended to the package name for the default output.
	archiveExtension = ".zip"
)

// FileEntry is one selected file.
type FileEntry struct {
	// Source is the slash-separated path relative to the run root.
	Source string
	// Archive is the path inside the package directory.
	Archive string
}

// Plan is the outcome of file selection.
type Plan struct {
	// PackageName is the top-level directory of the archive.
	PackageName string
	// OutputPath is the explicit output or "<PackageName>.zip".
	OutputPath string
	// Sets are the requested sets, de-duplicated and sorted.
	Sets []string
	// Files are the selected files in selection order.
	Files []FileEntry
	// Embedded are the manifests re-embedded when SetIn is requested, in input order.
	Embedded []*domain.Manifest
	// Skipped are the manifests that are not re-embedded.
	Skipped []*domain.Manifest
	// AllowUserManifest is the policy of the primary manifest.
	AllowUserManifest bool
	// UserFiles are the files added from the user manifest.
	UserFiles []string
}

// Requested reports whether set was requested.
func (p *Plan) Requested(set string) bool {
	_, found := slices.BinarySearch(p.Sets, set)

	return found
}

// EmbedsDescriptors reports whether the packager and the descriptors go into the archive.
func (p *Plan) EmbedsDescriptors() bool {
	return p.Requested(SetIn)
}

// Describes reports whether the description file goes into the archive.
func (p *Plan) Describes() bool {
	return p.Requested(SetOut)
}

// AddUserFiles appends user manifest files that are not selected yet.
func (p *Plan) AddUserFiles(files []string) error {
	seen := make(map[string]struct{}, len(p.Files))
	for _, entry := range p.Files {
		seen[entry.Source] = struct{}{}
	}

	for _, file := range files {
		source, err := cleanRelative(file)
		if err != nil {
			return err
		}

		p.UserFiles = append(p.UserFiles, source)

		if _, ok := seen[source]; ok {
			continue
		}

		seen[source] = struct{}{}
		p.Files = append(p.Files, FileEntry{Source: source, Archive: source})
	}

	return nil
}

// selection accumulates the state of one pass over the manifests.
type selection struct {
	sets      []string
	name      string
	primary   *domain.Manifest
	allowUser bool
	files     []FileEntry
	seen      map[string]struct{}
	embedded  []*domain.Manifest
	skipped   []*domain.Manifest
}

// Select decides which files and descriptors a package contains.
// It does not touch the filesystem; user manifest files are added later with AddUserFiles.
func Select(manifests []*domain.Manifest, sets []string, output string) (*Plan, error) {
	acc := &selection{
		sets: normalizeSets(sets),
		seen: make(map[string]struct{}),
	}

	for _, m := range manifests {
		if err := acc.visit(m); err != nil {
			return nil, err
		}
	}

	name, err := packageName(acc.name, output)
	if err != nil {
		return nil, err
	}

	if output == "" {
		output = name + archiveExtension
	}

	return &Plan{
		PackageName:       name,
		OutputPath:        output,
		Sets:              acc.sets,
		Files:             acc.files,
		Embedded:          acc.embedded,
		Skipped:           acc.skipped,
		AllowUserManifest: acc.allowUser,
	}, nil
}

// visit adds the files of m from every requested set and decides whether m is embedded.
func (s *selection) visit(m *domain.Manifest) error {
	isPrimary := m.Kind == domain.KindPrimary
	if isPrimary {
		if s.primary != nil {
			return fmt.Errorf("%w: %s and %s", ErrMultiplePrimary, s.primary.Filename, m.Filename)
		}

		s.primary = m
		s.name = m.Name
		s.allowUser = m.AllowUserManifest
	}

	contributed := false

	for _, set := range s.sets {
		for _, file := range m.FilesIn(set) {
			source, err := cleanRelative(path.Join(m.Path, file))
			if err != nil || path.IsAbs(file) {
				return fmt.Errorf("%s: set %s: %w: %s", m.Filename, set, ErrUnsafePath, file)
			}

			contributed = true

			if _, ok := s.seen[source]; ok {
				continue
			}

			s.seen[source] = struct{}{}
			s.files = append(s.files, FileEntry{Source: source, Archive: source})
		}
	}

	if contributed || isPrimary || m.HasSet(SetOut) {
		s.embedded = append(s.embedded, m)
	} else {
		s.skipped = append(s.skipped, m)
	}

	return nil
}

// packageName picks the primary manifest name, falling back to the output file name.
func packageName(name, output string) (string, error) {
	if name != "" {
		return name, nil
	}

	if output == "" {
		return "", ErrNoPackageName
	}

	base := filepath.Base(output)
	name = strings.TrimSuffix(base, filepath.Ext(base))

	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: cannot derive a name from %s", ErrNoPackageName, output)
	}

	return name, nil
}

// normalizeSets removes blank and repeated set names and sorts the rest.
func normalizeSets(sets []string) []string {
	normalized := make([]string, 0, len(sets))

	for _, set := range sets {
		if set = strings.TrimSpace(set); set != "" {
			normalized = append(normalized, set)
		}
	}

	slices.Sort(normalized)

	return slices.Compact(normalized)
}

// cleanRelative normalizes a root-relative path and rejects absolute or escaping ones.
func cleanRelative(file string) (string, error) {
	slashed := strings.ReplaceAll(file, "\\", "/")
	cleaned := path.Clean(slashed)

	if slashed == "" || path.IsAbs(slashed) || filepath.IsAbs(file) || filepath.VolumeName(file) != "" ||
		cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, file)
	}

	return cleaned, nil
}
