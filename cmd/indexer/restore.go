package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

var (
	restoreForce   bool
	restoreTimeout time.Duration
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Apply every logged activity the index has not applied yet",
	Long: `restore opens the index, queues every activity above the committed
LastActivityId plus every gap, runs them and commits. The search service must
be stopped; a locked index is refused unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "open the index even if the lock marker is present")
	restoreCmd.Flags().DurationVar(&restoreTimeout, "timeout", 30*time.Minute, "give up after this long")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), restoreTimeout)
	defer cancel()

	dir, err := engine.OpenDirectory(cfg.Index.DataDir)
	if err != nil {
		return err
	}
	if dir.IsLocked() && !restoreForce {
		return fmt.Errorf("index %s is locked; stop the search service or pass --force", dir.Path())
	}

	pg, err := openPostgres()
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}
	actLog, err := activity.OpenLog(ctx, cfg.Activity, pg)
	if err != nil {
		return err
	}
	defer actLog.Close()
	var provider activity.DocumentProvider
	if pg != nil {
		if provider, err = activity.NewPostgresProvider(ctx, pg); err != nil {
			return err
		}
	}

	mgr, err := indexer.NewManager(indexer.Options{Config: cfg.Index})
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting index: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			slog.Error("index shutdown failed", "error", err)
		}
	}()

	queue := activity.NewQueue(activity.QueueConfig{
		MaxParallel:    cfg.Activity.MaxParallel,
		CommitInterval: time.Second,
	}, actLog, mgr, activity.NewIndexExecutor(mgr, provider), nil)
	if err := queue.Start(ctx); err != nil {
		return err
	}
	queued := queue.Pending()
	slog.Info("restoring activities", "queued", queued)

	drainErr := drain(ctx, queue)
	if err := queue.Close(); err != nil {
		return fmt.Errorf("committing restored status: %w", err)
	}
	if drainErr != nil {
		return drainErr
	}

	status := queue.Status()
	if err := actLog.WriteStatus(context.Background(), status); err != nil {
		slog.Warn("could not store status in the activity log", "error", err)
	}
	last, err := actLog.LastID(context.Background())
	if err != nil {
		return fmt.Errorf("reading last activity id: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ran %d activities; index status %s\n", queued, status)
	if failed := max(last-status.LastActivityID, 0) + int64(len(status.Gaps)); failed > 0 {
		return fmt.Errorf("%d activities are still not applied", failed)
	}
	return nil
}

// drain waits until the queue has nothing left to run.
func drain(ctx context.Context, q *activity.Queue) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for q.Pending() > 0 {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("restore did not finish within %v, %d activities left", restoreTimeout, q.Pending())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
