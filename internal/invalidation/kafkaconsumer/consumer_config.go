package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/layersync/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// RetryBackoff is the pause after a failed Consume round.
	RetryBackoff time.Duration
}

// FromConfig fills consumer timings around the viewer's invalidation settings.
// A viewer only cares about changes made while it runs, so it starts at the
// newest offset.
func FromConfig(c config.InvalidationCfg) Config {
	return Config{
		Brokers:          c.Brokers,
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		RetryBackoff:     2 * time.Second,
	}
}
