package singleton

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// portOwnedByPID is the anti-PID-reuse guard: it answers "is the port
// actually listening, and does the OS report this specific PID as its
// listener?" rather than trusting the PID file alone. On Unix it shells
// out to lsof; on Windows, netstat.
func portOwnedByPID(port, pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "windows" {
		return portOwnedByPIDWindows(port, pid)
	}
	return portOwnedByPIDUnix(port, pid)
}

func portOwnedByPIDUnix(port, pid int) bool {
	out, err := exec.Command("lsof", "-nP",
		"-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-p", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return false
	}
	// lsof's header line is present even on a match; a match has at
	// least one additional data line.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return len(lines) >= 2
}

func portOwnedByPIDWindows(port, pid int) bool {
	out, err := exec.Command("netstat", "-ano", "-p", "TCP").CombinedOutput()
	if err != nil {
		return false
	}
	portSuffix := ":" + strconv.Itoa(port)
	pidStr := strconv.Itoa(pid)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if !strings.Contains(fields[1], portSuffix) {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		if fields[4] == pidStr {
			return true
		}
	}
	return false
}
