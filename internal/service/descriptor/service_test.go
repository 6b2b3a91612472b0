package descriptor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/manifest-packager/internal/domain/manifest"
	repository "github.com/oshokin/manifest-packager/internal/repository/manifest"
)

// writeTree creates files below root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
}

// newRoot returns a root with a primary and a secondary descriptor.
func newRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"MANIFEST.json":     `{"type":"primary","version":1,"name":"hw","sets":{"out":["a.txt"]}}`,
		"lib/MANIFEST.yaml": "type: secondary\nversion: 1\nsets:\n  in: [util.c]\n",
	})

	return root
}

// load reads a descriptor through a fresh repository.
func load(t *testing.T, root, filename string) *domain.Manifest {
	t.Helper()

	m, err := repository.NewFileRepository(root).Load(context.Background(), filename)
	require.NoError(t, err)

	return m
}

// TestKeygen_SignsDescriptor creates a key and signs the descriptor of the directory.
func TestKeygen_SignsDescriptor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := newRoot(t)
	svc := NewService(root, nil)

	keyFile, err := svc.Keygen(ctx, "lib", false)
	require.NoError(t, err)
	require.Equal(t, "lib/Manifest.key", keyFile)

	m := load(t, root, "lib/MANIFEST.yaml")
	require.NotNil(t, m.Signature)
	require.True(t, m.Verify())

	_, err = svc.Keygen(ctx, "lib", false)
	require.ErrorIs(t, err, ErrAlreadyKeyed)

	_, err = svc.Keygen(ctx, "lib", true)
	require.NoError(t, err)

	replaced := load(t, root, "lib/MANIFEST.yaml")
	require.True(t, replaced.Verify())
	require.False(t, replaced.PublicKey.Equal(m.PublicKey))

	_, err = svc.Keygen(ctx, "missing", false)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

// TestEdit_ResignsSignedDescriptor keeps a signed descriptor valid across edits.
func TestEdit_ResignsSignedDescriptor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := newRoot(t)
	svc := NewService(root, nil)

	_, err := svc.Keygen(ctx, ".", false)
	require.NoError(t, err)

	require.NoError(t, svc.AddFiles(ctx, ".", "out", "b.txt", "./c.txt"))

	m := load(t, root, "MANIFEST.json")
	require.True(t, m.Verify())
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, m.FilesIn("out"))

	require.NoError(t, svc.RemoveFiles(ctx, ".", "out", "a.txt", "missing.txt"))

	m = load(t, root, "MANIFEST.json")
	require.True(t, m.Verify())
	require.Equal(t, []string{"b.txt", "c.txt"}, m.FilesIn("out"))

	require.ErrorIs(t, svc.AddFiles(ctx, ".", " ", "x"), errEmptySet)
	require.ErrorIs(t, svc.AddFiles(ctx, ".", "out", "/abs"), errInvalidFile)

	// Without the key a signed descriptor cannot be edited.
	require.NoError(t, os.Remove(filepath.Join(root, "Manifest.key")))
	require.ErrorIs(t, svc.AddFiles(ctx, ".", "out", "d.txt"), repository.ErrMissingKeyFile)
}

// TestEdit_RemovingLastFileKeepsSignatureValid drops an emptied set so the descriptor still verifies.
func TestEdit_RemovingLastFileKeepsSignatureValid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := newRoot(t)
	svc := NewService(root, nil)

	_, err := svc.Keygen(ctx, ".", false)
	require.NoError(t, err)

	require.NoError(t, svc.AddFiles(ctx, ".", "in", "b.txt"))
	require.NoError(t, svc.RemoveFiles(ctx, ".", "out", "a.txt"))

	reports, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	m := load(t, root, "MANIFEST.json")
	require.True(t, m.Verify())
	require.Equal(t, []string{"in"}, m.SetNames())
}

// TestEdit_UnsignedDescriptor writes an unsigned descriptor without a key.
func TestEdit_UnsignedDescriptor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := newRoot(t)
	svc := NewService(root, nil)

	require.NoError(t, svc.AddFiles(ctx, "lib", "_private", "notes.md"))

	m := load(t, root, "lib/MANIFEST.yaml")
	require.Nil(t, m.Signature)
	require.Equal(t, []string{"notes.md"}, m.FilesIn("_private"))
	require.Equal(t, domain.FormatYAML, m.Format)
}

// TestSign_ResignsHandEdits repairs descriptors edited after signing.
func TestSign_ResignsHandEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := newRoot(t)
	svc := NewService(root, nil)

	_, err := svc.Keygen(ctx, ".", false)
	require.NoError(t, err)

	path := filepath.Join(root, "MANIFEST.json")
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(contents), `"a.txt"`, `"a.txt", "b.txt"`, 1)), 0o644))

	_, err = svc.Verify(ctx)
	require.ErrorIs(t, err, ErrVerification)
	require.ErrorIs(t, err, domain.ErrSignatureMismatch)

	signed, err := svc.Sign(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"MANIFEST.json"}, signed)

	reports, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, []Report{
		{Filename: "MANIFEST.json", Signed: true},
		{Filename: "lib/MANIFEST.yaml", Signed: false},
	}, reports)
	require.Equal(t, []string{"a.txt", "b.txt"}, load(t, root, "MANIFEST.json").FilesIn("out"))
}

// TestShow prints every descriptor summary.
func TestShow(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	require.NoError(t, NewService(newRoot(t), nil).Show(context.Background(), &out))
	require.Equal(t,
		"MANIFEST.json: primary [hw] v1\n    out:\n\ta.txt\n\nlib/MANIFEST.yaml: secondary [no-name] v1\n    in:\n\tutil.c\n",
		out.String())
}
