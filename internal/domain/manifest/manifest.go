package manifest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/oshokin/manifest-packager/internal/signature"
)

// Kind tells whether a manifest is authoritative for package-wide settings.
type Kind string

const (
	// KindPrimary supplies the package name and the user manifest policy.
	KindPrimary Kind = "primary"
	// KindSecondary only contributes files.
	KindSecondary Kind = "secondary"
)

const (
	// VersionBasic is the original descriptor version.
	VersionBasic = 1
	// VersionUserManifest adds the user_manifest flag to the signed content.
	VersionUserManifest = 2

	// privateSetPrefix marks build-only sets removed by Sanitize.
	privateSetPrefix = "_"
)

// ParseKind converts the descriptor type string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPrimary, KindSecondary:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// Manifest is the in-memory form of one descriptor.
type Manifest struct {
	// Path is the slash-separated directory of the descriptor relative to the run root.
	Path string
	// Filename is the slash-separated descriptor path relative to the run root.
	Filename string
	// Format is the codec the descriptor was read with and is written back with.
	Format Format
	// Kind is primary or secondary.
	Kind Kind
	// Name is the package name; only meaningful on a primary manifest.
	Name string
	// Version is 1 or 2.
	Version int
	// AllowUserManifest permits extra files from the user manifest (version 2 only).
	AllowUserManifest bool
	// Signature is the raw Ed25519 signature over the canonical encoding.
	Signature []byte
	// PublicKey is the key the signature verifies against.
	PublicKey ed25519.PublicKey

	// sets maps a set name to the set of relative file paths.
	sets map[string]map[string]struct{}
	// privateKey enables signing; it is never serialized.
	privateKey ed25519.PrivateKey
}

// New returns an empty secondary manifest of version 1.
func New() *Manifest {
	return &Manifest{
		Path:    ".",
		Format:  FormatJSON,
		Kind:    KindSecondary,
		Version: VersionBasic,
		sets:    make(map[string]map[string]struct{}),
	}
}

// SetLocation records where the descriptor lives relative to the run root.
func (m *Manifest) SetLocation(filename string) {
	m.Filename = path.Clean(strings.ReplaceAll(filename, "\\", "/"))
	m.Path = path.Dir(m.Filename)
}

// SetAllowUserManifest toggles the user manifest flag. Enabling it upgrades the manifest to version 2.
func (m *Manifest) SetAllowUserManifest(allow bool) {
	m.AllowUserManifest = allow
	if allow {
		m.Version = VersionUserManifest
	}
}

// AddFile adds file to set, creating the set when needed.
func (m *Manifest) AddFile(set, file string) {
	files, ok := m.sets[set]
	if !ok {
		files = make(map[string]struct{})
		m.sets[set] = files
	}

	files[file] = struct{}{}
}

// RemoveFile removes file from set and reports whether it was present.
// A set left without files is dropped, as Parse never yields empty sets.
func (m *Manifest) RemoveFile(set, file string) bool {
	files, ok := m.sets[set]
	if !ok {
		return false
	}

	if _, ok = files[file]; !ok {
		return false
	}

	delete(files, file)

	if len(files) == 0 {
		delete(m.sets, set)
	}

	return true
}

// FilesIn returns the sorted files of set, or an empty slice for an unknown set.
func (m *Manifest) FilesIn(set string) []string {
	files, ok := m.sets[set]
	if !ok {
		return []string{}
	}

	return slices.Sorted(maps.Keys(files))
}

// SetNames returns the sorted set names.
func (m *Manifest) SetNames() []string {
	return slices.Sorted(maps.Keys(m.sets))
}

// HasSet reports whether the manifest declares set.
func (m *Manifest) HasSet(set string) bool {
	_, ok := m.sets[set]

	return ok
}

// Sanitize removes every set whose name starts with an underscore.
func (m *Manifest) Sanitize() {
	for set := range m.sets {
		if strings.HasPrefix(set, privateSetPrefix) {
			delete(m.sets, set)
		}
	}
}

// AttachPrivateKey enables signing with priv.
// The key must belong to the manifest public key when one is already present.
func (m *Manifest) AttachPrivateKey(priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("attach private key: %w", signature.ErrInvalidKey)
	}

	if m.PublicKey != nil && !m.PublicKey.Equal(priv.Public()) {
		return ErrKeyMismatch
	}

	m.privateKey = priv

	return nil
}

// HasPrivateKey reports whether the manifest can be signed.
func (m *Manifest) HasPrivateKey() bool {
	return m.privateKey != nil
}

// Sign replaces the signature when a private key is attached.
// It returns false and leaves the manifest untouched otherwise.
func (m *Manifest) Sign() bool {
	if m.privateKey == nil {
		return false
	}

	sig, err := signature.Sign(m.privateKey, Encode(m))
	if err != nil {
		return false
	}

	m.Signature = sig

	return true
}

// Resign signs the current contents and publishes the public key derived from the
// attached private key. It returns false when no private key is attached.
func (m *Manifest) Resign() (bool, error) {
	if m.privateKey == nil {
		return false, nil
	}

	pub, ok := m.privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return false, fmt.Errorf("derive public key: %w", errPublicKeyUnavailable)
	}

	if !m.Sign() {
		return false, fmt.Errorf("sign %s: %w", m.Filename, signature.ErrInvalidKey)
	}

	m.PublicKey = pub

	return true, nil
}

// Verify checks the signature against the canonical encoding of the current state.
func (m *Manifest) Verify() bool {
	return signature.Verify(m.PublicKey, m.Signature, Encode(m))
}

// Clone returns a deep copy of the manifest, including the attached private key.
func (m *Manifest) Clone() *Manifest {
	cloned := *m
	cloned.Signature = bytes.Clone(m.Signature)
	cloned.PublicKey = ed25519.PublicKey(bytes.Clone(m.PublicKey))
	cloned.privateKey = ed25519.PrivateKey(bytes.Clone(m.privateKey))
	cloned.sets = make(map[string]map[string]struct{}, len(m.sets))

	for set, files := range m.sets {
		cloned.sets[set] = maps.Clone(files)
	}

	return &cloned
}

// String renders a human-readable summary of the manifest.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = "no-name"
	}

	var builder strings.Builder

	fmt.Fprintf(&builder, "%s: %s [%s] v%d", m.Filename, m.Kind, name, m.Version)

	if m.Signature != nil {
		builder.WriteString(" signed")
	}

	for i, set := range m.SetNames() {
		if i > 0 {
			builder.WriteByte('\n')
		}

		builder.WriteString("\n    ")
		builder.WriteString(set)
		builder.WriteString(":")

		for _, file := range m.FilesIn(set) {
			builder.WriteString("\n\t")
			builder.WriteString(file)
		}
	}

	return builder.String()
}
