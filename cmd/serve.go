package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccglmproxy/pkg/config"
	"github.com/lkarlslund/ccglmproxy/pkg/logjournal"
	"github.com/lkarlslund/ccglmproxy/pkg/logutil"
	"github.com/lkarlslund/ccglmproxy/pkg/proxy"
)

var serveConfigPath string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(serveConfigPath)
			if err != nil {
				return err
			}
			// An explicit --loglevel wins over logging.level from the config file.
			if !cmd.Flags().Changed("loglevel") {
				if err := logutil.Configure(cfg.Logging.Level); err != nil {
					return err
				}
			}

			journal, err := logjournal.Open(cfg.Logging.File)
			if err != nil {
				return err
			}
			defer journal.Close()

			logger := logutil.New("serve")
			srv := proxy.New(cfg, logger, journal)

			watchConfigForReload(serveConfigPath, srv, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "Proxy config YAML path")
	rootCmd.AddCommand(serveCmd)
}

// watchConfigForReload starts a best-effort fsnotify watch on path's
// parent directory. A write to the config file triggers a fresh Load and
// Reload; load failures are logged and the previous configuration stays
// in effect, since a broken edit must never take down a running server.
func watchConfigForReload(path string, srv *proxy.Server, logger *charmlog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		logger.Warn("config hot-reload disabled", "error", err)
		return
	}
	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if event.Name != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			srv.Reload(cfg)
			logger.Info("config reloaded", "path", path)
		}
	}()
}
