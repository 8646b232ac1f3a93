package main

import (
	"golang.org/x/sys/unix"
)

// lockMemory keeps the pages currently mapped, the unlocked database among
// them, out of swap. Future mappings are left unlocked: the Go heap would
// otherwise fail to grow past RLIMIT_MEMLOCK.
func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT)
}

// exitWithParent asks the kernel to send SIGTERM when the parent dies.
func exitWithParent() error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGTERM), 0, 0, 0)
}
