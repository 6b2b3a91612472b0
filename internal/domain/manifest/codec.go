package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/manifest-packager/internal/signature"
)

// Format identifies the encoding of a descriptor file.
type Format string

const (
	// FormatJSON is the original MANIFEST.json descriptor.
	FormatJSON Format = "json"
	// FormatYAML is a YAML descriptor.
	FormatYAML Format = "yaml"
	// FormatTOML is a TOML descriptor.
	FormatTOML Format = "toml"
)

// FormatFromPath picks the descriptor format from the file extension.
func FormatFromPath(filename string) (Format, error) {
	switch strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/"))) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%s: %w", filename, errUnknownFormat)
	}
}

// descriptor is the on-disk record shared by every format.
type descriptor struct {
	// Type is "primary" or "secondary".
	Type string `json:"type" toml:"type" yaml:"type"`
	// Version is 1 or 2.
	Version int `json:"version" toml:"version" yaml:"version"`
	// Sets maps set names to file lists.
	Sets map[string][]string `json:"sets" toml:"sets" yaml:"sets"`
	// UserManifest allows the user manifest (version 2 only).
	UserManifest bool `json:"user_manifest,omitempty" toml:"user_manifest,omitempty" yaml:"user_manifest,omitempty"`
	// Name is the package name.
	Name string `json:"name,omitempty" toml:"name,omitempty" yaml:"name,omitempty"`
	// Signature is the hex-encoded signature.
	Signature string `json:"signature,omitempty" toml:"signature,omitempty" yaml:"signature,omitempty"`
	// PubKey is the PEM-encoded public key.
	PubKey string `json:"pubkey,omitempty" toml:"pubkey,omitempty" yaml:"pubkey,omitempty"`
}

// Parse decodes a descriptor. Empty input yields an empty valid manifest.
// A descriptor carrying both a public key and a signature is verified immediately.
func Parse(data []byte, format Format) (*Manifest, error) {
	return parse(data, format, true)
}

// ParseUnverified decodes a descriptor without checking its signature, so that a
// hand-edited descriptor can be re-signed. Verify reports whether the signature still matches.
func ParseUnverified(data []byte, format Format) (*Manifest, error) {
	return parse(data, format, false)
}

// parse decodes a descriptor, verifying the signature when verify is set.
func parse(data []byte, format Format, verify bool) (*Manifest, error) {
	m := New()
	m.Format = format

	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}

	var d descriptor
	if err := unmarshal(data, format, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	if d.Version != VersionBasic && d.Version != VersionUserManifest {
		return nil, fmt.Errorf("%w: %w: %d", ErrParse, ErrUnsupportedVersion, d.Version)
	}

	kind, err := ParseKind(d.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	if d.Sets == nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, errMissingSets)
	}

	m.Version = d.Version
	m.Kind = kind
	m.Name = d.Name

	for set, files := range d.Sets {
		for _, file := range files {
			m.AddFile(set, file)
		}
	}

	if m.Version == VersionUserManifest {
		m.SetAllowUserManifest(d.UserManifest)
	}

	if err = m.applyKeyMaterial(&d, verify); err != nil {
		return nil, err
	}

	return m, nil
}

// applyKeyMaterial decodes the public key and signature and optionally verifies them together.
func (m *Manifest) applyKeyMaterial(d *descriptor, verify bool) error {
	if d.PubKey != "" {
		pub, err := signature.DecodePublicKey([]byte(d.PubKey))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrParse, err)
		}

		m.PublicKey = pub
	}

	if d.Signature == "" {
		return nil
	}

	if m.PublicKey == nil {
		return fmt.Errorf("%w: %w", ErrParse, errSignatureWithoutKey)
	}

	sig, err := hex.DecodeString(strings.TrimSpace(d.Signature))
	if err != nil {
		return fmt.Errorf("%w: decode signature: %w", ErrParse, err)
	}

	m.Signature = sig

	if verify && !m.Verify() {
		return ErrSignatureMismatch
	}

	return nil
}

// Serialize encodes the manifest as a descriptor. It never signs: call Resign first
// when the contents changed. A signature that no longer verifies is rejected.
func (m *Manifest) Serialize(format Format) ([]byte, error) {
	d := descriptor{
		Type:    string(m.Kind),
		Version: m.Version,
		Sets:    make(map[string][]string, len(m.sets)),
		Name:    m.Name,
	}

	if m.Version == VersionUserManifest && m.AllowUserManifest {
		d.UserManifest = true
	}

	for _, set := range m.SetNames() {
		d.Sets[set] = m.FilesIn(set)
	}

	if m.PublicKey != nil {
		pubPEM, err := signature.EncodePublicKey(m.PublicKey)
		if err != nil {
			return nil, err
		}

		d.PubKey = string(pubPEM)
	}

	if m.Signature != nil {
		if !m.Verify() {
			return nil, fmt.Errorf("%s: %w", m.Filename, ErrStaleSignature)
		}

		d.Signature = hex.EncodeToString(m.Signature)
	}

	return marshal(&d, format)
}

// unmarshal decodes data into d with the codec of format.
func unmarshal(data []byte, format Format, d *descriptor) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, d)
	case FormatYAML:
		return yaml.Unmarshal(data, d)
	case FormatTOML:
		return toml.Unmarshal(data, d)
	default:
		return fmt.Errorf("%q: %w", format, errUnknownFormat)
	}
}

// marshal encodes d with the codec of format.
func marshal(d *descriptor, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, err
		}

		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(d)
	case FormatTOML:
		return toml.Marshal(d)
	default:
		return nil, fmt.Errorf("%q: %w", format, errUnknownFormat)
	}
}
