// Package consumer reads indexing activity requests from Kafka and
// registers them with the activity queue.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/kafka"
)

// ActivityEvent is the message the content store publishes when content is
// saved, moved or deleted. The id is assigned on registration.
type ActivityEvent struct {
	Type             activity.Type    `json:"type"`
	NodeID           int64            `json:"nodeId"`
	VersionID        int64            `json:"versionId"`
	Path             string           `json:"path"`
	VersionTimestamp int64            `json:"versionTimestamp"`
	Document         *engine.Document `json:"document,omitempty"`
}

func (e ActivityEvent) Activity() *activity.Activity {
	return &activity.Activity{
		Type:             e.Type,
		NodeID:           e.NodeID,
		VersionID:        e.VersionID,
		Path:             e.Path,
		VersionTimestamp: e.VersionTimestamp,
		Document:         e.Document,
	}
}

// EventOf converts a logged activity back into the event that requests it.
func EventOf(a *activity.Activity) ActivityEvent {
	return ActivityEvent{
		Type:             a.Type,
		NodeID:           a.NodeID,
		VersionID:        a.VersionID,
		Path:             a.Path,
		VersionTimestamp: a.VersionTimestamp,
		Document:         a.Document,
	}
}

// Key is the partition key. Events for one node, or one tree, share a
// partition and so keep their order.
func (e ActivityEvent) Key() string {
	if e.Type.IsTree() {
		return e.Path
	}
	return strconv.FormatInt(e.NodeID, 10)
}

// Registrar accepts activities; *activity.Queue implements it.
type Registrar interface {
	Register(ctx context.Context, a *activity.Activity) (int64, error)
}

// ActivityConsumer wraps a Kafka consumer feeding the activity queue.
type ActivityConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *ActivityConsumer {
	return &ActivityConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "activity-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ac *ActivityConsumer) Start(ctx context.Context) error {
	ac.logger.Info("activity consumer starting")
	return ac.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler registering each event.
// Undecodable or invalid events are logged and skipped so they do not block
// the partition; a failure to store the activity is returned so the message
// is not committed.
func HandleMessage(queue Registrar) kafka.MessageHandler {
	logger := slog.Default().With("component", "activity-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ActivityEvent](value)
		if err != nil {
			logger.Error("failed to decode activity event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		id, err := queue.Register(ctx, event.Activity())
		if errors.Is(err, apperrors.ErrInvalidInput) {
			logger.Error("rejected activity event",
				"type", event.Type,
				"node_id", event.NodeID,
				"path", event.Path,
				"error", err,
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("registering %s activity for node %d: %w", event.Type, event.NodeID, err)
		}
		logger.Debug("activity registered",
			"id", id,
			"type", event.Type,
			"node_id", event.NodeID,
		)
		return nil
	}
}
