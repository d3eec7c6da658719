package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBootstrapNoopWithoutRequirementsOrPackageJSON(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "skill.log")

	err := Bootstrap(context.Background(), dir, VenvAuto, logPath)
	require.NoError(t, err)

	_, statErr := os.Stat(VenvDir(dir))
	require.True(t, os.IsNotExist(statErr), "no venv should be created without requirements.txt")
}

func TestBootstrapSkipsVenvWhenPolicyNever(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("requests\n"), 0644))
	logPath := filepath.Join(t.TempDir(), "skill.log")

	err := Bootstrap(context.Background(), dir, VenvNever, logPath)
	require.NoError(t, err)

	_, statErr := os.Stat(VenvDir(dir))
	require.True(t, os.IsNotExist(statErr), "venv policy 'never' must never create a venv")
}

func TestVenvDirAndPythonPaths(t *testing.T) {
	skillDir := filepath.Join("/skills", "greeter")
	require.Equal(t, filepath.Join(skillDir, ".venv"), VenvDir(skillDir))
	require.Equal(t, filepath.Join(skillDir, ".venv", "bin", "python"), VenvPython(skillDir))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))

	require.True(t, fileExists(present))
	require.False(t, fileExists(filepath.Join(dir, "absent.txt")))
}
