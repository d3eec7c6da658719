// Package sandboxproc applies OS-level resource and syscall limits to
// skill subprocesses: a pre-exec hook puts the
// child in its own process group and applies rlimits, with a
// seccomp-BPF syscall allowlist on platforms that support it.
package sandboxproc

import "time"

// Limits describes the resource ceiling applied to a sandboxed
// subprocess before it execs.
type Limits struct {
	MaxOpenFiles    uint64
	MaxCPUTime      time.Duration
	MaxAddressSpace uint64 // bytes; 0 means unlimited
}

// DefaultLimits is the conservative ceiling for an unconfigured
// skill: a modest file descriptor cap,
// a CPU time cap generous enough for interpreter startup, and an
// address space cap that catches runaway allocation without starving
// legitimate workloads.
var DefaultLimits = Limits{
	MaxOpenFiles:    256,
	MaxCPUTime:      30 * time.Second,
	MaxAddressSpace: 1 << 30, // 1 GiB
}
