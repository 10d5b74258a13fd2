package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccglmproxy/pkg/config"
	"github.com/lkarlslund/ccglmproxy/pkg/logutil"
	"github.com/lkarlslund/ccglmproxy/pkg/peertracker"
	"github.com/lkarlslund/ccglmproxy/pkg/singleton"
	"github.com/lkarlslund/ccglmproxy/pkg/version"
)

const peerProcessName = "ccglm"

func main() {
	root := &cobra.Command{
		Use:   "ccglm [flags] -- <command> [args...]",
		Short: "Run a code-assistant CLI wrapped by the cc-glm proxy",
		Long:  "ccglm starts (or reuses) a detached cc-glm proxy, points ANTHROPIC_BASE_URL at it, runs the wrapped command, and stops the proxy once no wrapped session remains.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrap(cmd, wrapConfigPath, args)
		},
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.FParseErrWhitelist.UnknownFlags = true
	root.Flags().SetInterspersed(false)

	var logLevel string
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logutil.Configure(logLevel)
	}
	root.Flags().StringVar(&wrapConfigPath, "config", config.DefaultConfigPath(), "Proxy config YAML path")

	root.AddCommand(newLogsCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print ccglm version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("ccglm"))
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var wrapConfigPath string

func runWrap(cmd *cobra.Command, cfgPath string, args []string) error {
	cfg, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctrl := singleton.New(singleton.Options{
		StateDir:  cfg.Lifecycle.StateDir,
		Host:      cfg.Proxy.Host,
		Port:      cfg.Proxy.Port,
		StartWait: secondsOr(cfg.Lifecycle.StartWaitSeconds, 8),
		StopGrace: secondsOr(cfg.Lifecycle.StopGraceSeconds, 8),
		Spawn:     spawnServer(cfgPath),
	}, nil)

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}

	targetCmd := strings.TrimSpace(args[0])
	if targetCmd == "" {
		return fmt.Errorf("command cannot be empty")
	}
	proc := exec.Command(targetCmd, args[1:]...)
	proc.Stdin = cmd.InOrStdin()
	proc.Stdout = cmd.OutOrStdout()
	proc.Stderr = cmd.ErrOrStderr()
	baseURL := "http://" + net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port))
	env := filteredEnv([]string{"ANTHROPIC_BASE_URL"})
	env = append(env, "ANTHROPIC_BASE_URL="+baseURL)
	proc.Env = env

	runErr := proc.Run()

	if stopErr := ctrl.StopIfNoPeers(func() bool { return peertracker.HasPeer(peerProcessName) }); stopErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to stop proxy: %v\n", stopErr)
	}

	return runErr
}

// spawnServer returns a singleton.Options.Spawn implementation that
// starts the detached server binary (resolved alongside this executable,
// falling back to PATH) with the same config path, writing its output to
// the singleton-provided log file.
func spawnServer(cfgPath string) func(logFile *os.File) (*os.Process, error) {
	return func(logFile *os.File) (*os.Process, error) {
		bin, err := resolveServerBinary()
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(bin, "serve", "--config", cfgPath)
		cmd.Stdin = nil
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.Env = os.Environ()
		cmd.SysProcAttr = detachedSysProcAttr()
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}

func resolveServerBinary() (string, error) {
	const name = "ccglmd"
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return exec.LookPath(name)
}

func secondsOr(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func filteredEnv(dropKeys []string) []string {
	drop := map[string]struct{}{}
	for _, k := range dropKeys {
		if k = strings.TrimSpace(k); k != "" {
			drop[k] = struct{}{}
		}
	}
	in := os.Environ()
	out := make([]string, 0, len(in))
	for _, e := range in {
		if i := strings.IndexByte(e, '='); i > 0 {
			if _, blocked := drop[e[:i]]; blocked {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
