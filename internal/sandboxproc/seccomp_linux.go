//go:build linux && amd64

package sandboxproc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// allowedSyscalls is the vetted allowlist skill subprocesses may invoke.
// Anything else traps to the kernel's default seccomp action (kill).
var allowedSyscalls = []int{
	unix.SYS_READ, unix.SYS_WRITE, unix.SYS_OPENAT, unix.SYS_CLOSE,
	unix.SYS_FSTAT, unix.SYS_LSEEK, unix.SYS_MMAP, unix.SYS_MUNMAP,
	unix.SYS_MPROTECT, unix.SYS_BRK, unix.SYS_RT_SIGACTION,
	unix.SYS_RT_SIGPROCMASK, unix.SYS_RT_SIGRETURN, unix.SYS_IOCTL,
	unix.SYS_ACCESS, unix.SYS_PIPE, unix.SYS_DUP, unix.SYS_DUP2,
	unix.SYS_GETPID, unix.SYS_GETTID, unix.SYS_SOCKET, unix.SYS_CONNECT,
	unix.SYS_SENDTO, unix.SYS_RECVFROM, unix.SYS_SETSOCKOPT,
	unix.SYS_GETSOCKOPT, unix.SYS_CLONE, unix.SYS_FORK, unix.SYS_EXECVE,
	unix.SYS_EXIT, unix.SYS_EXIT_GROUP, unix.SYS_WAIT4, unix.SYS_NANOSLEEP,
	unix.SYS_CLOCK_GETTIME, unix.SYS_GETCWD, unix.SYS_CHDIR, unix.SYS_STAT,
	unix.SYS_NEWFSTATAT, unix.SYS_UNLINKAT, unix.SYS_RENAMEAT, unix.SYS_MKDIRAT,
	unix.SYS_GETRANDOM, unix.SYS_MADVISE, unix.SYS_SET_ROBUST_LIST,
	unix.SYS_RSEQ, unix.SYS_PRLIMIT64,
}

// buildSeccompFilter constructs the BPF program allowlisting
// allowedSyscalls and killing the process on anything else. It is called
// from installSeccompFilter inside the re-exec'd trampoline, not in the
// parent.
func buildSeccompFilter() []unix.SockFilter {
	filter := []unix.SockFilter{
		// Load syscall number.
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0},
	}
	for _, syscallNum := range allowedSyscalls {
		filter = append(filter,
			unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(syscallNum), Jt: 0, Jf: 1},
			unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW},
		)
	}
	filter = append(filter, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_KILL_PROCESS})
	return filter
}

// installSeccompFilter installs the allowlist filter in the calling
// process, to be invoked from the trampoline after rlimits are applied
// but before the final execve into the sandboxed target.
func installSeccompFilter() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("sandboxproc: set no_new_privs: %w", err)
	}

	program := buildSeccompFilter()
	sockFprog := unix.SockFprog{
		Len:    uint16(len(program)),
		Filter: &program[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&sockFprog)), 0, 0); err != nil {
		return fmt.Errorf("sandboxproc: install seccomp filter: %w", err)
	}
	return nil
}
