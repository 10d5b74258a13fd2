// Package singleton implements C9: the cross-process lifecycle
// controller that ensures at most one detached server process is running
// against a given state directory, recovers from a crashed holder's
// stale lock, and verifies port ownership before signaling a PID so a
// reused PID is never mistaken for the server it replaced.
//
// There is no pack or ecosystem library for atomic-mkdir locking,
// PID-file bookkeeping, or port-ownership verification — these are a
// direct translation of OS primitives (os.Mkdir, os.FindProcess,
// external port-owner lookups) with no third-party substitute in the
// retrieved corpus. This package is the stdlib/os-exec exception noted
// in DESIGN.md.
package singleton

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/ccglmproxy/pkg/logutil"
)

// Options configures one Controller instance.
type Options struct {
	StateDir  string
	Host      string
	Port      int
	StartWait time.Duration
	StopGrace time.Duration
	// Spawn builds the *os.Process for the detached server child, given
	// an already-open log file to use as its stdout/stderr. It must
	// return the started process without waiting for it.
	Spawn func(logFile *os.File) (*os.Process, error)
}

// Controller owns one stateDir's lock, PID file, and log file.
type Controller struct {
	opts   Options
	logger *log.Logger
}

func New(opts Options, logger *log.Logger) *Controller {
	if logger == nil {
		return &Controller{opts: opts, logger: logutil.New("singleton")}
	}
	return &Controller{opts: opts, logger: logger.With("component", "singleton")}
}

func (c *Controller) pidPath() string  { return filepath.Join(c.opts.StateDir, "proxy.pid") }
func (c *Controller) lockPath() string { return filepath.Join(c.opts.StateDir, "lock") }
func (c *Controller) logPath() string  { return filepath.Join(c.opts.StateDir, "proxy.log") }

// Start ensures a server is running against this controller's stateDir,
// spawning one if necessary. It returns nil once the port is confirmed
// listening, whether or not this call was the one that spawned it.
func (c *Controller) Start() error {
	if err := os.MkdirAll(c.opts.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	c.recoverStaleLock()

	if c.portListening() {
		pid := c.readPID()
		if pid > 0 && c.pidOwnsPort(pid) {
			return nil // already running
		}
		return fmt.Errorf("port_in_use: %s:%d is in use by another process", c.opts.Host, c.opts.Port)
	}

	if err := os.Mkdir(c.lockPath(), 0o700); err != nil {
		// Another starter holds the lock; wait for it to finish.
		return c.waitForListening()
	}
	defer os.RemoveAll(c.lockPath())

	// Re-check now that we hold the lock, in case another starter won
	// the race between our first listening check and the mkdir above.
	if c.portListening() {
		return nil
	}

	return c.spawnAndWait()
}

func (c *Controller) spawnAndWait() error {
	logFile, err := os.OpenFile(c.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open proxy log: %w", err)
	}

	proc, err := c.opts.Spawn(logFile)
	if err != nil || proc == nil || proc.Pid <= 0 {
		logFile.Close()
		if err == nil {
			err = fmt.Errorf("spawn_failed: child reported no usable pid")
		}
		return fmt.Errorf("spawn_failed: %w", err)
	}
	logFile.Close() // the child holds its own duplicate of the fd

	if err := c.writePID(proc.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	_ = proc.Release() // detach: the parent must not wait on or own the child

	return c.waitForListening()
}

func (c *Controller) waitForListening() error {
	deadline := time.Now().Add(c.opts.StartWait)
	for time.Now().Before(deadline) {
		if c.portListening() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %s:%d to listen, see %s", c.opts.Host, c.opts.Port, c.logPath())
}

// recoverStaleLock removes a held lock directory (and its PID file) left
// behind by a starter that crashed before releasing it: if the port is
// not listening, or the recorded PID is dead, or alive but no longer the
// port's owner (a reused PID), the lock cannot be protecting anything
// real.
func (c *Controller) recoverStaleLock() {
	if _, err := os.Stat(c.lockPath()); err != nil {
		return
	}
	portUp := c.portListening()
	pid := c.readPID()
	alive := pid > 0 && pidAlive(pid)
	owns := alive && c.pidOwnsPort(pid)
	if !portUp || !owns {
		c.logger.Warn("stale_lock: removing stale lock", "pid", pid, "portListening", portUp, "ownsPort", owns)
		os.RemoveAll(c.lockPath())
		os.Remove(c.pidPath())
	}
}

// StopIfNoPeers polls hasPeer once per second across the configured stop
// grace window; if hasPeer ever reports true, the server is left
// running. Only after the full quiet window does it call Stop.
func (c *Controller) StopIfNoPeers(hasPeer func() bool) error {
	ticks := int(c.opts.StopGrace / time.Second)
	if ticks < 1 {
		ticks = 1
	}
	for i := 0; i < ticks; i++ {
		if hasPeer() {
			return nil
		}
		time.Sleep(1 * time.Second)
	}
	return c.Stop()
}

// Stop signals the server process to exit, escalating from a graceful
// termination signal to a kill signal if it does not exit within the
// graceful-stop poll window, and always removes the PID file on return.
func (c *Controller) Stop() error {
	defer os.Remove(c.pidPath())

	pid := c.readPID()
	if pid <= 0 || !c.pidOwnsPort(pid) {
		return nil // nothing to stop, or the PID is no longer the owner
	}

	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		if isAlreadyGone(err) {
			c.logger.Debug("process already gone before stop signal", "pid", pid)
			return nil
		}
		c.logger.Warn("failed to send termination signal", "pid", pid, "error", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) || !c.pidOwnsPort(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if pidAlive(pid) && c.pidOwnsPort(pid) {
		if err := signalProcess(pid, syscall.SIGKILL); err != nil && !isAlreadyGone(err) {
			c.logger.Warn("failed to send kill signal", "pid", pid, "error", err)
		}
	}
	return nil
}

func (c *Controller) readPID() int {
	b, err := os.ReadFile(c.pidPath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func (c *Controller) writePID(pid int) error {
	tmp := c.pidPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.pidPath())
}

func (c *Controller) portListening() bool {
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Controller) pidOwnsPort(pid int) bool {
	return portOwnedByPID(c.opts.Port, pid)
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

func isAlreadyGone(err error) bool {
	if err == nil {
		return false
	}
	return err == syscall.ESRCH || err == os.ErrProcessDone || strings.Contains(err.Error(), "process already finished")
}
