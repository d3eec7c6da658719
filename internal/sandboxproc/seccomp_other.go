//go:build unix && (!linux || !amd64)

package sandboxproc

import "errors"

// errSeccompUnsupported is returned on unix platforms without Linux's
// seccomp-BPF facility. Rlimits and Setpgid still apply; the filter is
// skipped with a warning instead of refusing to run the skill.
var errSeccompUnsupported = errors.New("sandboxproc: seccomp not supported on this platform")

func installSeccompFilter() error {
	return errSeccompUnsupported
}
