package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCASStoreDeduplicatesIdenticalContent(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	staged1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged1, "main.py"), []byte("print(1)"), 0644))
	require.NoError(t, cas.Store(staged1, "hash-a", "greeter"))

	staged2 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged2, "main.py"), []byte("print(1)"), 0644))
	require.NoError(t, cas.Store(staged2, "hash-a", "greeter-copy"))

	_, statErr := os.Stat(staged2)
	require.True(t, os.IsNotExist(statErr), "duplicate staged copy must be removed")

	entries, err := os.ReadDir(filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	names, err := cas.ListLinks()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"greeter", "greeter-copy"}, names)
}

func TestCASGCRemovesUnreferencedEntries(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	staged := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged, "main.py"), []byte("x"), 0644))
	require.NoError(t, cas.Store(staged, "hash-b", "tool"))
	require.NoError(t, cas.Unlink("tool"))

	removed, err := cas.GC()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	entries, err := os.ReadDir(filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCASResolveFollowsSymlink(t *testing.T) {
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	staged := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged, "main.py"), []byte("x"), 0644))
	require.NoError(t, cas.Store(staged, "hash-c", "tool"))

	resolved, err := cas.Resolve("tool")
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(resolved, "main.py"))
	require.NoError(t, statErr)
}
