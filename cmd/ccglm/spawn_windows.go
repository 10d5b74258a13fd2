//go:build windows

package main

import "syscall"

// detachedSysProcAttr starts the server child in its own console/process
// group so it is not killed when the wrapper's console is closed.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
