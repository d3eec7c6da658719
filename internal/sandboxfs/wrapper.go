package sandboxfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// wrapperScriptTemplate rewrites rm/rmdir invocations made by sandboxed
// subprocesses into calls against the host agent's own trash subcommand,
// so shelled-out deletes still land in Trash instead of unlinking. System
// paths short-circuit to the real binary.
const wrapperScriptTemplate = `#!/bin/sh
# Generated by agenthost; rewrites %s to route through the sandbox trash.
for arg in "$@"; do
	case "$arg" in
		/tmp/*|/dev/*|/proc/*|/sys/*)
			exec %s "$@"
			;;
	esac
done
exec %s --trash-dir %q --source subprocess trash %s "$@"
`

// WriteShellWrappers generates rm/rmdir wrapper scripts under wrapperDir
// that redirect deletes through agentBinary's trash subcommand, for
// prepending to a sandboxed subprocess's PATH.
func WriteShellWrappers(wrapperDir, agentBinary, trashDir string) error {
	if err := os.MkdirAll(wrapperDir, 0755); err != nil {
		return fmt.Errorf("sandboxfs: create wrapper dir: %w", err)
	}

	for _, spec := range []struct {
		name, realBinary, trashVerb string
	}{
		{"rm", "/bin/rm", "delete"},
		{"rmdir", "/bin/rmdir", "delete"},
	} {
		script := fmt.Sprintf(wrapperScriptTemplate, spec.name, spec.realBinary, agentBinary, trashDir, spec.trashVerb)
		path := filepath.Join(wrapperDir, spec.name)
		if err := os.WriteFile(path, []byte(script), 0755); err != nil {
			return fmt.Errorf("sandboxfs: write wrapper %s: %w", spec.name, err)
		}
	}
	return nil
}
