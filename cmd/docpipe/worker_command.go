package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docpipe/internal/daemonrun"
	"docpipe/internal/logging"
)

const workerTokenEnv = "DOCPIPE_WORKER_TOKEN"

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Remote worker utilities",
	}

	var port int
	var token string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive processing events over HTTP and report back to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(token) == "" {
				token = os.Getenv(workerTokenEnv)
			}
			logger, err := logging.NewFromConfig(cfg, "")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			recv, err := daemonrun.NewReceiver(cmd.Context(), cfg, token, logger)
			if err != nil {
				return err
			}
			if port <= 0 {
				port = cfg.Dispatch.ReceiverPort
			}
			return recv.Serve(cmd.Context(), port)
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "Listen port (defaults to dispatch.receiver_port)")
	serveCmd.Flags().StringVar(&token, "token", "", "Worker-role API token (or set "+workerTokenEnv+")")

	workerCmd.AddCommand(serveCmd)
	return workerCmd
}
