package indexer

import (
	"context"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/kafka"
)

// LockTakeover describes a forced removal of a stale write lock marker.
type LockTakeover struct {
	Directory string        `json:"directory"`
	LockPath  string        `json:"lockPath"`
	Waited    time.Duration `json:"waited"`
	Host      string        `json:"host"`
	At        time.Time     `json:"at"`
}

// LockNotifier tells operators about forced lock takeovers.
type LockNotifier interface {
	NotifyLockTakeover(ctx context.Context, t LockTakeover) error
}

type publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaLockNotifier publishes takeovers to the operator alerts topic, keyed
// by host.
type KafkaLockNotifier struct {
	pub publisher
}

func NewKafkaLockNotifier(p *kafka.Producer) *KafkaLockNotifier {
	return &KafkaLockNotifier{pub: p}
}

func (n *KafkaLockNotifier) NotifyLockTakeover(ctx context.Context, t LockTakeover) error {
	return n.pub.Publish(ctx, kafka.Event{
		Key: t.Host,
		Value: map[string]any{
			"type":     "index.lock_takeover",
			"takeover": t,
		},
	})
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
