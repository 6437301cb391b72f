package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/kafka"
)

var (
	replayFrom  int64
	replayTo    int64
	replayBatch int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Publish logged activities to the indexing topic",
	Long: `replay reads activities with from < id <= to from the activity log and
publishes them to the indexing activities topic, where every consuming search
node registers them again. Use it to rebuild a node from another node's log.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Int64Var(&replayFrom, "from", 0, "replay activities with an id above this")
	replayCmd.Flags().Int64Var(&replayTo, "to", 0, "last id to replay (0 for no limit)")
	replayCmd.Flags().IntVar(&replayBatch, "batch", 500, "activities per Kafka write")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	if !cfg.Kafka.Enabled {
		return errors.New("replay needs kafka.enabled")
	}
	if replayBatch <= 0 {
		return fmt.Errorf("--batch must be positive, got %d", replayBatch)
	}
	ctx := cmd.Context()

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

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexingActivities)
	defer producer.Close()

	var published int
	from := replayFrom
	for {
		acts, err := actLog.LoadRange(ctx, from, replayTo, replayBatch)
		if err != nil {
			return fmt.Errorf("loading activities after %d: %w", from, err)
		}
		if len(acts) == 0 {
			break
		}
		events := make([]kafka.Event, len(acts))
		for i, a := range acts {
			e := consumer.EventOf(a)
			events[i] = kafka.Event{Key: e.Key(), Value: e}
		}
		if err := producer.PublishBatch(ctx, events); err != nil {
			return err
		}
		published += len(acts)
		from = acts[len(acts)-1].ID
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d activities to %s\n", published, cfg.Kafka.Topics.IndexingActivities)
	return nil
}
