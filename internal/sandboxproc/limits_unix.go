//go:build unix

package sandboxproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/docker/docker/pkg/reexec"
	"golang.org/x/sys/unix"
)

const reexecEntrypoint = "agenthost-sandbox-init"

const (
	envMaxOpenFiles = "AGENTHOST_SANDBOX_NOFILE"
	envMaxCPUTime   = "AGENTHOST_SANDBOX_CPUTIME"
	envMaxAddrSpace = "AGENTHOST_SANDBOX_AS"
	envSeccomp      = "AGENTHOST_SANDBOX_SECCOMP"
)

func init() {
	reexec.Register(reexecEntrypoint, sandboxInit)
}

// Init must be called first thing in main: when the process was
// launched as the sandbox trampoline it runs sandboxInit and returns
// true, and the caller must exit without doing anything else.
func Init() bool {
	return reexec.Init()
}

// Command builds an *exec.Cmd for name/args that, once started, first
// re-execs itself through a trampoline entrypoint applying limits and a
// seccomp filter before replacing itself with the real target via
// execve. The parent builds no seccomp-BPF program: the trampoline, a
// freshly exec'd process, both builds and installs it, so nothing is
// allocated between fork and exec.
func Command(ctx context.Context, limits Limits, seccompAllowed bool, name string, args ...string) *exec.Cmd {
	reexecArgs := append([]string{reexecEntrypoint, name}, args...)
	cmd := reexec.Command(reexecArgs...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", envMaxOpenFiles, limits.MaxOpenFiles),
		fmt.Sprintf("%s=%d", envMaxCPUTime, int64(limits.MaxCPUTime.Seconds())),
		fmt.Sprintf("%s=%d", envMaxAddrSpace, limits.MaxAddressSpace),
		fmt.Sprintf("%s=%t", envSeccomp, seccompAllowed),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// sandboxInit is the trampoline entrypoint: it reads limits from the
// environment, applies rlimits and Setpgid already took effect via
// SysProcAttr, installs the seccomp filter if requested, then execve's
// the real target so PID and argv[0] are exactly as the caller expects.
func sandboxInit() {
	nofile, _ := strconv.ParseUint(os.Getenv(envMaxOpenFiles), 10, 64)
	cpuSeconds, _ := strconv.ParseUint(os.Getenv(envMaxCPUTime), 10, 64)
	addrSpace, _ := strconv.ParseUint(os.Getenv(envMaxAddrSpace), 10, 64)
	seccompAllowed := os.Getenv(envSeccomp) == "true"

	if nofile > 0 {
		_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: nofile, Max: nofile})
	}
	if cpuSeconds > 0 {
		_ = unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds})
	}
	if addrSpace > 0 {
		_ = unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: addrSpace, Max: addrSpace})
	}

	if seccompAllowed {
		if err := installSeccompFilter(); err != nil {
			fmt.Fprintf(os.Stderr, "agenthost: seccomp unavailable, continuing with rlimits only: %v\n", err)
		}
	}

	target := os.Args[1]
	targetArgs := os.Args[1:]
	path, err := exec.LookPath(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agenthost: sandbox init: resolve %s: %v\n", target, err)
		os.Exit(127)
	}
	if err := syscall.Exec(path, targetArgs, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "agenthost: sandbox init: exec %s: %v\n", target, err)
		os.Exit(126)
	}
}
