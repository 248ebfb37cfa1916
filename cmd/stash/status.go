package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stash/pkg/progress"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status TENANT",
	Short: "Show the last reported migration progress of a tenant",
	Long: `Read a tenant's migration progress from the shared Redis progress cache.

Any process running migrations with redis.addr configured publishes its
progress there, so status works from another shell or host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is not configured; progress is only visible to the migrating process")
		}

		cache, err := progress.NewRedisCache(cmd.Context(), progress.Config{
			Addr:   cfg.Redis.Addr,
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Redis.TTL,
		})
		if err != nil {
			return err
		}
		defer cache.Close()

		p, err := cache.Get(cmd.Context(), args[0])
		if errors.Is(err, progress.ErrNotFound) {
			fmt.Printf("No migration recorded for %s\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Job:       %s\n", p.JobID)
		fmt.Printf("Tenant:    %s\n", p.TenantID)
		fmt.Printf("Backend:   %s\n", p.Backend)
		fmt.Printf("Status:    %s\n", p.Status)
		fmt.Printf("Progress:  %d%% (%d/%d steps)\n", p.Percentage, p.StepsDone, p.StepCount)
		if p.Module != "" {
			fmt.Printf("Module:    %s\n", p.Module)
		}
		fmt.Printf("Copied:    %d files, %d bytes\n", p.FilesCopied, p.BytesCopied)
		if !p.StartedAt.IsZero() {
			fmt.Printf("Started:   %s\n", p.StartedAt.Format(time.RFC3339))
		}
		if !p.FinishedAt.IsZero() {
			fmt.Printf("Finished:  %s\n", p.FinishedAt.Format(time.RFC3339))
		}
		if p.Error != "" {
			fmt.Printf("Error:     %s\n", p.Error)
		}
		return nil
	},
}
