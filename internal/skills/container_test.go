package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvMapToListFormatsKeyValuePairs(t *testing.T) {
	list := envMapToList(map[string]string{"FOO": "bar"})
	require.Equal(t, []string{"FOO=bar"}, list)
}

func TestEnvMapToListEmptyMapYieldsEmptySlice(t *testing.T) {
	list := envMapToList(nil)
	require.Empty(t, list)
}

// Exercising Start/Stop/IsRunning/CaptureLogs against a live Docker
// daemon isn't meaningful without one; NewContainerRunner's nil-client
// fallback is covered by driving the public methods against the
// errDockerUnavailable path directly, which requires no daemon.
func TestContainerRunnerWithoutDockerReportsUnavailable(t *testing.T) {
	r := &ContainerRunner{containers: make(map[string]string)}

	err := r.Start(context.Background(), "greeter", t.TempDir(), Manifest{EntryPoint: "main.py"}, "python:3.12-slim")
	require.ErrorIs(t, err, errDockerUnavailable)

	require.False(t, r.IsRunning(context.Background(), "greeter"))

	_, err = r.CaptureLogs(context.Background(), "greeter")
	require.ErrorIs(t, err, errDockerUnavailable)

	require.NoError(t, r.Stop(context.Background(), "greeter"))
}
