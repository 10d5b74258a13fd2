//go:build !windows

package main

import "syscall"

// detachedSysProcAttr puts the spawned server child in its own process
// group so it survives the wrapper's exit instead of receiving signals
// sent to the wrapper's group (e.g. Ctrl-C from the same terminal).
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
