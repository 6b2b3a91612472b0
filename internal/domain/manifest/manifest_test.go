package manifest

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/manifest-packager/internal/signature"
)

// newSignedManifest returns a primary manifest with an attached key pair, already signed.
func newSignedManifest(t *testing.T) (*Manifest, ed25519.PrivateKey) {
	t.Helper()

	_, priv, err := signature.GenerateKey()
	require.NoError(t, err)

	m := New()
	m.Kind = KindPrimary
	m.Name = "hw1"
	m.AddFile("out", "a.txt")
	m.AddFile("out", "b.txt")
	m.AddFile("_build", "tmp.o")

	require.NoError(t, m.AttachPrivateKey(priv))

	signed, err := m.Resign()
	require.NoError(t, err)
	require.True(t, signed)

	return m, priv
}

// TestParse_Empty verifies that empty input yields a valid default manifest.
func TestParse_Empty(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "  \n\t"} {
		m, err := Parse([]byte(input), FormatJSON)
		require.NoError(t, err)
		require.Equal(t, KindSecondary, m.Kind)
		require.Equal(t, VersionBasic, m.Version)
		require.Empty(t, m.SetNames())
	}
}

// TestParse_Errors covers the parse failure taxonomy.
func TestParse_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  string
		target error
	}{
		{"unsupported version", `{"type":"secondary","version":3,"sets":{}}`, ErrUnsupportedVersion},
		{"missing version", `{"type":"secondary","sets":{}}`, ErrUnsupportedVersion},
		{"invalid type", `{"type":"tertiary","version":1,"sets":{}}`, ErrInvalidType},
		{"missing type", `{"version":1,"sets":{}}`, ErrInvalidType},
		{"missing sets", `{"type":"primary","version":1}`, ErrParse},
		{"not json", `{"type":`, ErrParse},
		{"bad pubkey", `{"type":"primary","version":1,"sets":{},"pubkey":"nope"}`, ErrParse},
		{"signature without pubkey", `{"type":"primary","version":1,"sets":{},"signature":"abcd"}`, ErrParse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m, err := Parse([]byte(tc.input), FormatJSON)
			require.ErrorIs(t, err, tc.target)
			require.ErrorIs(t, err, ErrParse)
			require.Nil(t, m)
		})
	}
}

// TestParse_UserManifestOnlyForVersion2 checks that version 1 ignores user_manifest.
func TestParse_UserManifestOnlyForVersion2(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(`{"type":"primary","version":1,"sets":{"out":["a"]},"user_manifest":true}`), FormatJSON)
	require.NoError(t, err)
	require.False(t, m.AllowUserManifest)

	m, err = Parse([]byte(`{"type":"primary","version":2,"sets":{"out":["a"]},"user_manifest":true}`), FormatJSON)
	require.NoError(t, err)
	require.True(t, m.AllowUserManifest)
}

// TestParse_EmptySetIsDropped mirrors the behavior that empty file lists do not create a set.
func TestParse_EmptySetIsDropped(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(`{"type":"secondary","version":1,"sets":{"out":[],"in":["x.c","x.c"]}}`), FormatJSON)
	require.NoError(t, err)
	require.Equal(t, []string{"in"}, m.SetNames())
	require.Equal(t, []string{"x.c"}, m.FilesIn("in"))
}

// TestParse_SignatureVerification checks that a tampered descriptor fails to parse.
func TestParse_SignatureVerification(t *testing.T) {
	t.Parallel()

	m, _ := newSignedManifest(t)

	data, err := m.Serialize(FormatJSON)
	require.NoError(t, err)

	parsed, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	require.True(t, parsed.Verify())

	pubPEM, err := signature.EncodePublicKey(m.PublicKey)
	require.NoError(t, err)

	tampered := fmt.Sprintf(
		`{"type":"primary","version":1,"name":"hw1","sets":{"out":["a.txt","b.txt","c.txt"],"_build":["tmp.o"]},"pubkey":%q,"signature":%q}`,
		string(pubPEM), hex.EncodeToString(m.Signature),
	)

	_, err = Parse([]byte(tampered), FormatJSON)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	unverified, err := ParseUnverified([]byte(tampered), FormatJSON)
	require.NoError(t, err)
	require.False(t, unverified.Verify())
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, unverified.FilesIn("out"))
}

// TestRoundtrip_AllFormats verifies parse(serialize(m)) for every descriptor format.
func TestRoundtrip_AllFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			m, _ := newSignedManifest(t)
			m.SetAllowUserManifest(true)

			_, err := m.Resign()
			require.NoError(t, err)

			data, err := m.Serialize(format)
			require.NoError(t, err)

			parsed, err := Parse(data, format)
			require.NoError(t, err)
			require.Equal(t, m.Kind, parsed.Kind)
			require.Equal(t, m.Version, parsed.Version)
			require.Equal(t, m.Name, parsed.Name)
			require.True(t, parsed.AllowUserManifest)
			require.Equal(t, m.SetNames(), parsed.SetNames())

			for _, set := range m.SetNames() {
				require.Equal(t, m.FilesIn(set), parsed.FilesIn(set))
			}

			require.True(t, parsed.Verify())
			require.Equal(t, Encode(m), Encode(parsed))
		})
	}
}

// TestRoundtrip_RemovingLastFileDropsSet checks that a signed descriptor still verifies
// after its last file in a set is removed.
func TestRoundtrip_RemovingLastFileDropsSet(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			_, priv, err := signature.GenerateKey()
			require.NoError(t, err)

			m := New()
			m.AddFile("out", "a.txt")
			m.AddFile("in", "b.txt")
			require.NoError(t, m.AttachPrivateKey(priv))

			require.True(t, m.RemoveFile("out", "a.txt"))
			require.Equal(t, []string{"in"}, m.SetNames())

			_, err = m.Resign()
			require.NoError(t, err)

			data, err := m.Serialize(format)
			require.NoError(t, err)

			parsed, err := Parse(data, format)
			require.NoError(t, err)
			require.True(t, parsed.Verify())
			require.Equal(t, []string{"in"}, parsed.SetNames())
			require.Equal(t, Encode(m), Encode(parsed))
		})
	}
}

// TestSerialize_UnsignedOmitsKeyMaterial checks that unsigned manifests carry no signature fields.
func TestSerialize_UnsignedOmitsKeyMaterial(t *testing.T) {
	t.Parallel()

	m := New()
	m.Kind = KindPrimary
	m.AddFile("out", "a.txt")

	data, err := m.Serialize(FormatJSON)
	require.NoError(t, err)
	require.NotContains(t, string(data), "signature")
	require.NotContains(t, string(data), "pubkey")
	require.NotContains(t, string(data), "user_manifest")
	require.NotContains(t, string(data), "name")
}

// TestSerialize_StaleSignature ensures modified contents must be re-signed before serializing.
func TestSerialize_StaleSignature(t *testing.T) {
	t.Parallel()

	m, _ := newSignedManifest(t)
	m.AddFile("out", "c.txt")

	_, err := m.Serialize(FormatJSON)
	require.ErrorIs(t, err, ErrStaleSignature)

	signed, err := m.Resign()
	require.NoError(t, err)
	require.True(t, signed)

	_, err = m.Serialize(FormatJSON)
	require.NoError(t, err)
}

// TestSign_WithoutKey checks that signing is a no-op without a private key.
func TestSign_WithoutKey(t *testing.T) {
	t.Parallel()

	m := New()
	m.AddFile("out", "a.txt")

	require.False(t, m.Sign())
	require.Nil(t, m.Signature)

	signed, err := m.Resign()
	require.NoError(t, err)
	require.False(t, signed)
	require.False(t, m.Verify())
}

// TestSignVerify_DetectsChanges checks that verification follows every signed field.
func TestSignVerify_DetectsChanges(t *testing.T) {
	t.Parallel()

	m, _ := newSignedManifest(t)
	require.True(t, m.Verify())

	m.Name = "renamed"
	require.True(t, m.Verify(), "name is not part of the signed content")

	m.Kind = KindSecondary
	require.False(t, m.Verify())

	m.Kind = KindPrimary
	require.True(t, m.Verify())

	m.SetAllowUserManifest(false)
	m.Version = VersionUserManifest
	require.False(t, m.Verify())

	m.Version = VersionBasic
	m.Signature[0] ^= 0xff
	require.False(t, m.Verify())
}

// TestAttachPrivateKey_Mismatch rejects a key that does not belong to the manifest.
func TestAttachPrivateKey_Mismatch(t *testing.T) {
	t.Parallel()

	m, _ := newSignedManifest(t)

	_, other, err := signature.GenerateKey()
	require.NoError(t, err)

	require.ErrorIs(t, m.AttachPrivateKey(other), ErrKeyMismatch)
	require.ErrorIs(t, New().AttachPrivateKey(ed25519.PrivateKey("short")), signature.ErrInvalidKey)
}

// TestSanitize_Idempotent removes private sets and keeps the rest.
func TestSanitize_Idempotent(t *testing.T) {
	t.Parallel()

	m := New()
	m.AddFile("_private", "secret.txt")
	m.AddFile("_", "x")
	m.AddFile("out", "a.txt")
	m.AddFile("in_", "b.txt")

	m.Sanitize()
	once := Encode(m)

	m.Sanitize()
	require.Equal(t, once, Encode(m))
	require.Equal(t, []string{"in_", "out"}, m.SetNames())
}

// TestAddRemoveFile checks set semantics of file membership.
func TestAddRemoveFile(t *testing.T) {
	t.Parallel()

	m := New()
	require.Empty(t, m.FilesIn("out"))
	require.NotNil(t, m.FilesIn("out"))
	require.False(t, m.RemoveFile("out", "a.txt"))

	m.AddFile("out", "a.txt")
	m.AddFile("out", "a.txt")
	require.Equal(t, []string{"a.txt"}, m.FilesIn("out"))

	require.True(t, m.RemoveFile("out", "a.txt"))
	require.False(t, m.RemoveFile("out", "a.txt"))
	require.False(t, m.HasSet("out"))
	require.Empty(t, m.FilesIn("out"))
	require.NotNil(t, m.FilesIn("out"))
}

// TestClone_IsDeep ensures mutations of a clone never leak into the original.
func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	m, _ := newSignedManifest(t)
	before := Encode(m)

	c := m.Clone()
	require.True(t, c.HasPrivateKey())

	c.Sanitize()
	c.AddFile("out", "c.txt")
	c.Signature[0] ^= 0xff

	require.Equal(t, before, Encode(m))
	require.True(t, m.Verify())
	require.True(t, m.HasSet("_build"))
}

// TestSetLocation derives the manifest directory from its descriptor path.
func TestSetLocation(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetLocation("MANIFEST.json")
	require.Equal(t, ".", m.Path)

	m.SetLocation("lib/util/MANIFEST.yaml")
	require.Equal(t, "lib/util", m.Path)
	require.Equal(t, "lib/util/MANIFEST.yaml", m.Filename)
}

// TestFormatFromPath maps extensions to codecs.
func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"MANIFEST.json":     FormatJSON,
		"a/MANIFEST.YAML":   FormatYAML,
		"a/b/MANIFEST.yml":  FormatYAML,
		"MANIFEST.toml":     FormatTOML,
		`win\MANIFEST.json`: FormatJSON,
	}
	for name, want := range cases {
		got, err := FormatFromPath(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := FormatFromPath("MANIFEST.ini")
	require.Error(t, err)
}

// TestString renders a readable summary.
func TestString(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetLocation("MANIFEST.json")
	m.Kind = KindPrimary
	m.AddFile("out", "a.txt")

	require.Equal(t, "MANIFEST.json: primary [no-name] v1\n    out:\n\ta.txt", m.String())

	m.AddFile("in", "main.c")
	m.Name = "hw1"
	require.Equal(t, "MANIFEST.json: primary [hw1] v1\n    in:\n\tmain.c\n\n    out:\n\ta.txt", m.String())
}
