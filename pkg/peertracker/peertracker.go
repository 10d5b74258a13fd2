// Package peertracker implements C10: a predicate over the OS process
// table asking whether any other process belonging to the current user
// and matching a known name is still alive. It exists so the singleton
// controller can decide whether it is safe to stop the detached server
// after the last known consumer exits.
package peertracker

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// HasPeer reports whether a process named name (other than the current
// process) is alive for the current user. It is intentionally coarse: on
// Unix it runs the equivalent of `pgrep -u <uid> -x <name>`, on Windows a
// tasklist filter by image name. A name shared with an unrelated process
// (e.g. a desktop app with the same prefix) produces a false positive;
// callers must tolerate that.
func HasPeer(name string) bool {
	if runtime.GOOS == "windows" {
		return hasPeerWindows(name)
	}
	return hasPeerUnix(name)
}

func hasPeerUnix(name string) bool {
	uid := strconv.Itoa(os.Getuid())
	out, err := exec.Command("pgrep", "-u", uid, "-x", name).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches; warnings on stderr are not matches.
		return false
	}
	self := strconv.Itoa(os.Getpid())
	for _, pid := range strings.Fields(string(out)) {
		if pid != self {
			return true
		}
	}
	return false
}

func hasPeerWindows(name string) bool {
	image := name
	if !strings.HasSuffix(strings.ToLower(image), ".exe") {
		image += ".exe"
	}
	out, err := exec.Command("tasklist", "/FI", "IMAGENAME eq "+image, "/NH").CombinedOutput()
	if err != nil {
		return false
	}
	self := strconv.Itoa(os.Getpid())
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.EqualFold(fields[0], image) && fields[1] != self {
			return true
		}
	}
	return false
}
