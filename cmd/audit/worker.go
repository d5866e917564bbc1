package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/auditcore"
	"github.com/zero-day-ai/auditcore/queue"
	"github.com/zero-day-ai/auditcore/worker"
)

type workerOptions struct {
	Name        string
	Protocol    string
	Passes      []int
	Concurrency int
	WorkDir     string
}

// newWorkerCmd serves an external analysis program on the work queue so a
// queue worker declared in audit.yaml can reach it from another host.
func newWorkerCmd(root *rootOptions) *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker --name <queue> -- <command> [args...]",
		Short: "Serve a command worker on the Redis work queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			client, err := queue.NewRedisClient(queue.RedisOptions{
				URL:          cfg.Queue.GetRedisURL(),
				BlockTimeout: cfg.Queue.GetBlockTimeout(),
			})
			if err != nil {
				return err
			}
			defer auditcore.CloseWithLog(client, logger, "queue")

			w := &worker.CommandWorker{
				WorkerName: opts.Name,
				Command:    args[0],
				Args:       args[1:],
				WorkDir:    opts.WorkDir,
				Env:        os.Environ(),
				Timeout:    cfg.Scheduler.GetTaskTimeout(),
			}
			return worker.Serve(cmd.Context(), w, worker.ServeOptions{
				Client:      client,
				Protocol:    opts.Protocol,
				Passes:      opts.Passes,
				Concurrency: opts.Concurrency,
				Logger:      logger,
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "Queue name; must match the queue of the worker in audit.yaml")
	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "Protocol advertised in the registration")
	cmd.Flags().IntSliceVar(&opts.Passes, "pass", []int{7}, "Passes advertised in the registration")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "Concurrent invocations")
	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "Working directory for the command")
	return cmd
}
