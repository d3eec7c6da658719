package skills

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyTreePreservesStructureAndContent(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.py"), []byte("print(1)"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "helper.py"), []byte("print(2)"), 0644))

	dest := filepath.Join(t.TempDir(), "copied")
	require.NoError(t, copyTree(src, dest))

	data, err := os.ReadFile(filepath.Join(dest, "sub", "helper.py"))
	require.NoError(t, err)
	require.Equal(t, "print(2)", string(data))
}

func TestHoistNestedManifestNoopWhenManifestAtRoot(t *testing.T) {
	dir := t.TempDir()
	writeSkillFixture(t, dir)

	hoisted, err := hoistNestedManifest(dir)
	require.NoError(t, err)
	require.Equal(t, dir, hoisted)
}

func TestHoistNestedManifestPullsUpSingleWrapperDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "archive-main")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeSkillFixture(t, nested)

	hoisted, err := hoistNestedManifest(dir)
	require.NoError(t, err)
	require.Equal(t, dir, hoisted)

	_, err = os.Stat(filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)
}

func TestHoistNestedManifestErrorsWhenNoneFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0644))

	_, err := hoistNestedManifest(dir)
	require.Error(t, err)
}

func TestExtractTarGzWritesFilesAndDirs(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pkg/", Typeflag: tar.TypeDir, Mode: 0755}))
	content := []byte("print('hi')\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pkg/main.py", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dest := t.TempDir()
	require.NoError(t, extractTarGz(&buf, dest))

	got, err := os.ReadFile(filepath.Join(dest, "pkg", "main.py"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestExtractZipWritesFilesAndDirs(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("pkg/main.py")
	require.NoError(t, err)
	content := []byte("print('hi')\n")
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dest := t.TempDir()
	require.NoError(t, extractZip(bytes.NewReader(buf.Bytes()), dest))

	got, err := os.ReadFile(filepath.Join(dest, "pkg", "main.py"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestImportFromLocalDirSignsAndStores(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(root, "signing.key"), enc)
	require.NoError(t, err)

	localSrc := t.TempDir()
	writeSkillFixture(t, localSrc)

	staging := t.TempDir()
	name, err := Import(context.Background(), cas, key, ImportSource{LocalDir: localSrc}, staging)
	require.NoError(t, err)
	require.Equal(t, "greeter", name)

	dir, err := cas.Resolve("greeter")
	require.NoError(t, err)
	_, err = Verify(dir, key.Public)
	require.NoError(t, err)
}

func TestImportAppliesNameOverride(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(root, "signing.key"), enc)
	require.NoError(t, err)

	localSrc := t.TempDir()
	writeSkillFixture(t, localSrc)

	staging := t.TempDir()
	name, err := Import(context.Background(), cas, key, ImportSource{LocalDir: localSrc, NameOverride: "greeter-2"}, staging)
	require.NoError(t, err)
	require.Equal(t, "greeter-2", name)

	dir, err := cas.Resolve("greeter-2")
	require.NoError(t, err)
	manifest, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, "greeter-2", manifest.Name)
}

func TestImportMissingSourceErrors(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)
	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(root, "signing.key"), enc)
	require.NoError(t, err)

	_, err = Import(context.Background(), cas, key, ImportSource{}, t.TempDir())
	require.Error(t, err)
}
