// Package kafkaconsumer feeds feature-change events from a Kafka topic into
// the viewer.
package kafkaconsumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	obs "github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/invalidation"
	mylog "github.com/mohammed-shakir/layersync/internal/logger"
)

// Applier acts on a decoded event. *invalidation.Applier satisfies it.
type Applier interface {
	Apply(ctx context.Context, ev invalidation.Event) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	apply  Applier

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   []int32
}

func New(cfg Config, logger *slog.Logger, apply Applier) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Consumer{cfg: cfg, logger: logger, apply: apply}
}

func (c *Consumer) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "layersync-viewer"
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	return cfg
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.apply == nil {
		return errors.New("kafkaconsumer: missing applier")
	}
	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.saramaConfig())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			c.logger.Error("kafka consumer group close", "err", err)
		}
	}()

	ctx = mylog.WithComponent(ctx, "change_consumer")
	h := c.handler()
	c.logger.InfoContext(ctx, "change consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
			c.logger.ErrorContext(ctx, "kafka consume error", "err", err)
			select {
			case <-time.After(c.cfg.RetryBackoff):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("change consumer shutting down")
			return nil
		}
	}
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			var parts []int32
			for _, p := range sess.Claims() {
				parts = append(parts, p...)
			}
			slices.Sort(parts)
			c.assignMu.Lock()
			c.assign = parts
			c.assignMu.Unlock()
			c.assigned.Store(true)
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assigned.Store(false)
			c.assignMu.Lock()
			c.assign = nil
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// Readiness reports whether partitions are assigned, and which.
func (c *Consumer) Readiness() (bool, []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	return true, slices.Clone(c.assign)
}

// ProcessOne decodes and applies one message. Malformed events are logged and
// skipped so they cannot wedge the partition; apply failures are returned so
// the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() { obs.ObserveUpstreamLatency("kafka_change", time.Since(start).Seconds()) }()

	var ev invalidation.Event
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		obs.IncChangeEvent("", invalidation.OutcomeInvalid)
		c.logger.WarnContext(ctx, "change event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if ev.TS.IsZero() {
		ev.TS = msg.Timestamp
	}

	err := c.apply.Apply(mylog.WithLayer(ctx, ev.Layer), ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrInput):
		c.logger.WarnContext(ctx, "change event rejected",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	default:
		return fmt.Errorf("apply change event: %w", err)
	}
}
