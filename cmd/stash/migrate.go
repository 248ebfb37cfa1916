package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/stash/pkg/api"
	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/health"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/reconciler"
	"github.com/cuemby/stash/pkg/scheduler"
	"github.com/cuemby/stash/pkg/types"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate TENANT --backend TYPE [--opt KEY=VALUE]...",
	Short: "Migrate a tenant's files to another storage backend",
	Long: `Copy every file of every module of a tenant to the target backend, then
commit the target as the tenant's storage of record.

The command blocks until the migration finishes and exits non-zero if it
failed. Interrupting it stops the migration after the file in flight.

Examples:
  # Move a tenant to S3
  stash migrate acme --backend s3 --opt bucket=acme-files --opt region=eu-west-1

  # Move a tenant to a local directory, exposing metrics while it runs
  stash migrate acme --backend disc --opt path=/srv/acme --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		pairs, _ := cmd.Flags().GetStringArray("opt")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		poll, _ := cmd.Flags().GetDuration("poll-interval")
		noProbe, _ := cmd.Flags().GetBool("no-probe")

		opts, err := parseOptions(pairs)
		if err != nil {
			return err
		}
		if metricsAddr == "" {
			metricsAddr = cfg.Metrics.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		reqs := []migrationRequest{{
			TenantID: args[0],
			Target:   types.BackendDescriptor{Type: backend, Options: opts},
		}}
		return runMigrations(ctx, rt, reqs, runOptions{
			MetricsAddr:  metricsAddr,
			PollInterval: poll,
			SkipProbe:    noProbe,
			Out:          os.Stdout,
		})
	},
}

func init() {
	migrateCmd.Flags().String("backend", "", "Target backend type (disc, s3, gcs, azure)")
	migrateCmd.Flags().StringArray("opt", nil, "Target backend option as KEY=VALUE (repeatable)")
	migrateCmd.Flags().String("metrics-addr", "", "Serve /metrics, /health and /ready on this address while migrating")
	migrateCmd.Flags().Duration("poll-interval", 500*time.Millisecond, "How often progress is printed")
	migrateCmd.Flags().Bool("no-probe", false, "Skip the write probe against the target before migrating")
	_ = migrateCmd.MarkFlagRequired("backend")
}

// parseOptions turns KEY=VALUE pairs into a backend option map
func parseOptions(pairs []string) (map[string]string, error) {
	opts := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q: expected KEY=VALUE", pair)
		}
		opts[k] = v
	}
	return opts, nil
}

type migrationRequest struct {
	TenantID string
	Target   types.BackendDescriptor
}

type runOptions struct {
	MetricsAddr  string
	PollInterval time.Duration
	SkipProbe    bool
	Probe        health.Config
	Out          io.Writer
}

// outcomes forwards job events to the broker and keeps the terminal event of
// each tenant so the command can report results after the jobs are evicted
type outcomes struct {
	broker *events.Broker

	mu    sync.Mutex
	final map[string]*events.Event
}

func newOutcomes(broker *events.Broker) *outcomes {
	return &outcomes{broker: broker, final: make(map[string]*events.Event)}
}

func (o *outcomes) Publish(ev *events.Event) {
	if ev.Type == events.EventMigrationCompleted || ev.Type == events.EventMigrationFailed {
		o.mu.Lock()
		o.final[ev.TenantID] = ev
		o.mu.Unlock()
	}
	o.broker.Publish(ev)
}

// report prints one line per tenant and returns an error if any failed.
// rejected counts requests that never reached the scheduler.
func (o *outcomes) report(out io.Writer, reqs []migrationRequest, rejected int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	failed := rejected
	for _, req := range reqs {
		ev, ok := o.final[req.TenantID]
		switch {
		case !ok:
			failed++
			fmt.Fprintf(out, "✗ %s: no result\n", req.TenantID)
		case ev.Type == events.EventMigrationFailed:
			failed++
			fmt.Fprintf(out, "✗ %s: %s\n", req.TenantID, ev.Message)
		default:
			fmt.Fprintf(out, "✓ %s migrated to %s\n", req.TenantID, req.Target.Type)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d migrations failed", failed, len(reqs)+rejected)
	}
	return nil
}

// probeTarget checks that the target accepts writes under the tenant's prefix
func probeTarget(ctx context.Context, rt *runtime, req migrationRequest, cfg health.Config) error {
	modules := rt.factory.Modules()
	if len(modules) == 0 {
		return nil
	}
	h, err := rt.factory.GetStorageFromConsumer(ctx, req.TenantID, modules[0], req.Target)
	if err != nil {
		return err
	}
	status := health.Probe(ctx, health.NewStorageChecker(h), cfg)
	if !status.Healthy {
		return fmt.Errorf("target %s failed probe: %s", req.Target.Type, status.LastResult.Message)
	}
	return nil
}

// runMigrations admits every request on a scheduler, prints progress until
// all jobs finish and reports the results. Tenants orphaned in the migrating
// status are released first. Cancelling ctx stops the scheduler; queued jobs
// fail and running ones stop after the current file.
func runMigrations(ctx context.Context, rt *runtime, reqs []migrationRequest, opts runOptions) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Probe.Retries <= 0 {
		opts.Probe = health.DefaultConfig()
	}

	notifier := newOutcomes(rt.broker)
	sched := scheduler.NewScheduler(rt.deps(notifier), rt.cfg.Scheduler.MaxConcurrent)

	recon := reconciler.NewReconciler(rt.tenants, sched, notifier)
	released, err := recon.Reconcile(ctx)
	if err != nil {
		return err
	}
	for _, id := range released {
		fmt.Fprintf(opts.Out, "Released %s from an interrupted migration\n", id)
	}
	recon.Start()
	defer recon.Stop()

	collector := metrics.NewCollector(rt.tenants)
	collector.Start()
	defer collector.Stop()

	if opts.MetricsAddr != "" {
		hs := api.NewHealthServer(rt.tenants, Version)
		if rt.cache != nil {
			hs.AddCheck("redis", rt.cache)
		}
		if err := hs.Start(opts.MetricsAddr); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(sctx)
		}()
	}

	admitted := make([]migrationRequest, 0, len(reqs))
	rejected := 0
	for _, req := range reqs {
		if !opts.SkipProbe {
			if err := probeTarget(ctx, rt, req, opts.Probe); err != nil {
				fmt.Fprintf(opts.Out, "✗ %s: %v\n", req.TenantID, err)
				rejected++
				continue
			}
		}
		if !sched.Start(req.TenantID, req.Target) {
			fmt.Fprintf(opts.Out, "Migration already in flight for %s, skipping\n", req.TenantID)
			continue
		}
		fmt.Fprintf(opts.Out, "Migrating %s to %s\n", req.TenantID, req.Target.Type)
		admitted = append(admitted, req)
	}

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	last := make(map[string]migrate.Progress, len(admitted))
	for {
		select {
		case <-done:
			return notifier.report(opts.Out, admitted, rejected)

		case <-ctx.Done():
			fmt.Fprintln(opts.Out, "\nStopping migrations...")
			stopErr := sched.Stop()
			_ = notifier.report(opts.Out, admitted, rejected)
			if stopErr != nil {
				return fmt.Errorf("migrations interrupted: %w", stopErr)
			}
			return ctx.Err()

		case <-ticker.C:
			for _, req := range admitted {
				p, ok := sched.Progress(req.TenantID)
				if !ok {
					continue
				}
				if prev, seen := last[req.TenantID]; seen && sameProgress(prev, p) {
					continue
				}
				last[req.TenantID] = p
				printProgress(opts.Out, p)
			}
		}
	}
}

func sameProgress(a, b migrate.Progress) bool {
	return a.Status == b.Status &&
		a.Percentage == b.Percentage &&
		a.FilesCopied == b.FilesCopied &&
		a.Module == b.Module
}

func printProgress(out io.Writer, p migrate.Progress) {
	line := fmt.Sprintf("  %s: %s %3d%%", p.TenantID, p.Status, p.Percentage)
	if p.Module != "" {
		line += " module=" + p.Module
	}
	fmt.Fprintf(out, "%s files=%d bytes=%d\n", line, p.FilesCopied, p.BytesCopied)
}
