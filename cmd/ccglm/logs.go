package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccglmproxy/pkg/config"
	"github.com/lkarlslund/ccglmproxy/pkg/logjournal"
)

func newLogsCmd() *cobra.Command {
	var logsConfigPath string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the structured request journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(logsConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			records, err := logjournal.ReadAll(cfg.Logging.File)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				line := fmt.Sprintf("%s %-5s %s", r.TS, r.Level, r.Msg)
				if r.ReqID != "" {
					line += fmt.Sprintf(" reqId=%s", r.ReqID)
				}
				if r.Model != "" {
					line += fmt.Sprintf(" model=%s", r.Model)
				}
				if r.Upstream != "" {
					line += fmt.Sprintf(" upstream=%s", r.Upstream)
				}
				if r.Status != 0 {
					line += fmt.Sprintf(" status=%d", r.Status)
				}
				if r.DurationMS != 0 {
					line += fmt.Sprintf(" durationMs=%d", r.DurationMS)
				}
				if r.ErrorCode != "" {
					line += fmt.Sprintf(" errorCode=%s", r.ErrorCode)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logsConfigPath, "config", config.DefaultConfigPath(), "Proxy config YAML path")
	return cmd
}
