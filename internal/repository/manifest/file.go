package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oshokin/manifest-packager/internal/config"
	domain "github.com/oshokin/manifest-packager/internal/domain/manifest"
	"github.com/oshokin/manifest-packager/internal/logger"
	"github.com/oshokin/manifest-packager/internal/signature"
)

// descriptorFileMode is used when a descriptor is written for the first time.
const descriptorFileMode = 0o644

var (
	// ErrMissingKeyFile is returned when a signed descriptor has no private key next to it.
	ErrMissingKeyFile = errors.New("private key file is missing")
	// ErrNoRootManifest is returned when the root directory has no descriptor.
	ErrNoRootManifest = errors.New("no manifest in the root directory")
	// ErrNotFound is returned when a directory has no descriptor.
	ErrNotFound = errors.New("manifest not found")
	// ErrKeyExists is returned when a private key would be overwritten.
	ErrKeyExists = errors.New("private key file already exists")
)

// Repository defines persistence operations for manifest descriptors and their keys.
// Filenames are slash-separated and relative to Root.
type Repository interface {
	Root() string
	Discover(ctx context.Context) ([]string, error)
	Load(ctx context.Context, filename string) (*domain.Manifest, error)
	LoadUnverified(ctx context.Context, filename string) (*domain.Manifest, error)
	LoadAll(ctx context.Context) ([]*domain.Manifest, error)
	Save(ctx context.Context, m *domain.Manifest) error
	FindInDir(ctx context.Context, dir string) (string, error)
	RootDescriptor(ctx context.Context) (string, error)
	KeyFilename(m *domain.Manifest) string
	HasPrivateKey(m *domain.Manifest) bool
	LoadPrivateKey(ctx context.Context, m *domain.Manifest) error
	SavePrivateKey(ctx context.Context, m *domain.Manifest, keyPEM []byte, overwrite bool) error
}

var _ Repository = (*FileRepository)(nil)

// FileRepository reads and writes descriptors below a root directory.
// Every filename it accepts or returns is slash-separated and relative to the root.
type FileRepository struct {
	// root is the directory packaging runs from.
	root string
	// descriptorNames lists descriptor file names in priority order.
	descriptorNames []string
	// keyFilename is the private key file name.
	keyFilename string
}

// Option configures a FileRepository.
type Option func(*FileRepository)

// WithDescriptorNames sets the descriptor file names, highest priority first.
func WithDescriptorNames(names ...string) Option {
	return func(r *FileRepository) {
		if len(names) > 0 {
			r.descriptorNames = slices.Clone(names)
		}
	}
}

// WithKeyFilename sets the private key file name.
func WithKeyFilename(name string) Option {
	return func(r *FileRepository) {
		if name != "" {
			r.keyFilename = name
		}
	}
}

// NewFileRepository creates a repository rooted at root.
func NewFileRepository(root string, opts ...Option) *FileRepository {
	r := &FileRepository{
		root:            filepath.Clean(root),
		descriptorNames: config.DefaultDescriptorNames(),
		keyFilename:     config.DefaultKeyFilename,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Root returns the directory the repository works in.
func (r *FileRepository) Root() string {
	return r.root
}

// Discover finds every descriptor below the root, sorted by path.
// Hidden directories are skipped. A directory holding several descriptor names
// contributes only the one with the highest priority.
func (r *FileRepository) Discover(ctx context.Context) ([]string, error) {
	var (
		fsys   = os.DirFS(r.root)
		chosen = make(map[string]string)
	)

	for _, name := range r.descriptorNames {
		matches, err := doublestar.Glob(fsys, "**/"+name, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", name, err)
		}

		for _, match := range matches {
			if path.Base(match) != name || isHidden(match) {
				continue
			}

			dir := path.Dir(match)
			if existing, ok := chosen[dir]; ok {
				logger.WarnKV(ctx, "Ignoring descriptor shadowed by another one in the same directory",
					"ignored", match, "used", existing)

				continue
			}

			chosen[dir] = match
		}
	}

	files := make([]string, 0, len(chosen))
	for _, file := range chosen {
		files = append(files, file)
	}

	slices.Sort(files)

	logger.DebugKV(ctx, "Discovered descriptors", "root", r.root, "count", len(files))

	return files, nil
}

// Load reads and parses the descriptor at filename, verifying its signature.
func (r *FileRepository) Load(ctx context.Context, filename string) (*domain.Manifest, error) {
	return r.load(ctx, filename, domain.Parse)
}

// LoadUnverified reads the descriptor at filename without checking its signature.
func (r *FileRepository) LoadUnverified(ctx context.Context, filename string) (*domain.Manifest, error) {
	return r.load(ctx, filename, domain.ParseUnverified)
}

// load reads filename and decodes it with parse.
func (r *FileRepository) load(
	ctx context.Context,
	filename string,
	parse func([]byte, domain.Format) (*domain.Manifest, error),
) (*domain.Manifest, error) {
	format, err := domain.FormatFromPath(filename)
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(r.abs(filename))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", filename, err)
	}

	m, err := parse(contents, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	m.SetLocation(filename)

	logger.DebugKV(ctx, "Loaded descriptor", "file", m.Filename, "kind", m.Kind, "signed", m.Signature != nil)

	return m, nil
}

// LoadAll discovers and loads every descriptor in path order.
func (r *FileRepository) LoadAll(ctx context.Context) ([]*domain.Manifest, error) {
	files, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}

	manifests := make([]*domain.Manifest, 0, len(files))

	for _, file := range files {
		m, loadErr := r.Load(ctx, file)
		if loadErr != nil {
			return nil, loadErr
		}

		manifests = append(manifests, m)
	}

	return manifests, nil
}

// Save writes the manifest back to its descriptor file in its own format.
// The manifest must already carry a valid signature when it is signed.
func (r *FileRepository) Save(ctx context.Context, m *domain.Manifest) error {
	if m.Filename == "" {
		return fmt.Errorf("save manifest: %w", ErrNotFound)
	}

	data, err := m.Serialize(m.Format)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.Filename, err)
	}

	if err = os.WriteFile(r.abs(m.Filename), data, descriptorFileMode); err != nil {
		return fmt.Errorf("write manifest %s: %w", m.Filename, err)
	}

	logger.DebugKV(ctx, "Saved descriptor", "file", m.Filename)

	return nil
}

// FindInDir returns the highest-priority descriptor in dir, relative to the root.
func (r *FileRepository) FindInDir(_ context.Context, dir string) (string, error) {
	dir = path.Clean(filepath.ToSlash(dir))

	for _, name := range r.descriptorNames {
		filename := path.Join(dir, name)

		info, err := os.Stat(r.abs(filename))
		if err == nil && info.Mode().IsRegular() {
			return filename, nil
		}
	}

	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// RootDescriptor returns the descriptor of the root directory.
func (r *FileRepository) RootDescriptor(ctx context.Context) (string, error) {
	filename, err := r.FindInDir(ctx, ".")
	if err != nil {
		return "", fmt.Errorf("%w: looked for %s in %s", ErrNoRootManifest, strings.Join(r.descriptorNames, ", "), r.root)
	}

	return filename, nil
}

// KeyFilename returns the private key path of m, relative to the root.
func (r *FileRepository) KeyFilename(m *domain.Manifest) string {
	return path.Join(m.Path, r.keyFilename)
}

// HasPrivateKey reports whether a private key file sits next to the descriptor.
func (r *FileRepository) HasPrivateKey(m *domain.Manifest) bool {
	info, err := os.Stat(r.abs(r.KeyFilename(m)))

	return err == nil && info.Mode().IsRegular()
}

// LoadPrivateKey reads the key file next to the descriptor and attaches it to m.
func (r *FileRepository) LoadPrivateKey(_ context.Context, m *domain.Manifest) error {
	keyFile := r.KeyFilename(m)

	contents, err := os.ReadFile(r.abs(keyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w: %s", m.Filename, ErrMissingKeyFile, keyFile)
		}

		return fmt.Errorf("read private key %s: %w", keyFile, err)
	}

	priv, err := signature.DecodePrivateKey(contents)
	if err != nil {
		return fmt.Errorf("%s: %w", keyFile, err)
	}

	if err = m.AttachPrivateKey(priv); err != nil {
		return fmt.Errorf("%s: %w", keyFile, err)
	}

	return nil
}

// SavePrivateKey writes the PEM-encoded key next to the descriptor with owner-only
// permissions. An existing key is only replaced when overwrite is set.
func (r *FileRepository) SavePrivateKey(ctx context.Context, m *domain.Manifest, keyPEM []byte, overwrite bool) error {
	keyFile := r.KeyFilename(m)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(r.abs(keyFile), flags, config.DefaultFilePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, keyFile)
		}

		return fmt.Errorf("create private key %s: %w", keyFile, err)
	}

	_, err = file.Write(keyPEM)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("write private key %s: %w", keyFile, err)
	}

	logger.InfoKV(ctx, "Private key written", "file", keyFile)

	return nil
}

// abs converts a root-relative slash path to a filesystem path.
func (r *FileRepository) abs(filename string) string {
	return filepath.Join(r.root, filepath.FromSlash(filename))
}

// isHidden reports whether any directory of the slash path starts with a dot.
func isHidden(filename string) bool {
	dir := path.Dir(filename)
	if dir == "." {
		return false
	}

	for _, element := range strings.Split(dir, "/") {
		if strings.HasPrefix(element, ".") {
			return true
		}
	}

	return false
}
