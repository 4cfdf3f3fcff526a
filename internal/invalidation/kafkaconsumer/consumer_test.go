package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/layersync/internal/invalidation"
)

type fakeApplier struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seen      []invalidation.Event
}

func (f *fakeApplier) Apply(_ context.Context, ev invalidation.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("loop stopped")
	}
	f.mu.Lock()
	f.seen = append(f.seen, ev)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "layer-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(id int) []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpUpdate, Layer: "stations", TS: time.Now().UTC(),
		FeatureID: id,
		BBox:      &invalidation.BBox{X1: 77, Y1: 28, X2: 78, Y2: 29, SRID: "EPSG:4326"},
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(a Applier) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "layer-changes", GroupID: "g"}
	return New(cfg, slog.Default(), a)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)

	g := c.handler()
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "layer-changes", Partition: 0, Offset: 10, Value: eventBytes(1)}
	ch <- &sarama.ConsumerMessage{Topic: "layer-changes", Partition: 0, Offset: 11, Value: eventBytes(2)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(fa.seen) != 2 {
		t.Fatalf("applied=%d want 2", len(fa.seen))
	}
	if id, ok := fa.seen[1].Feature(); !ok || id != "2" {
		t.Fatalf("feature id=%q ok=%v", id, ok)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fa := &fakeApplier{}
	fa.failFirst.Store(true)
	c := newConsumerForTest(fa)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "layer-changes", Partition: 0, Offset: 5, Value: eventBytes(1)}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := c.handler().ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestPoisonMessagesAreSkipped(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)
	ctx := context.Background()

	for _, v := range [][]byte{
		[]byte(`{not json`),
		[]byte(`{"version":9,"op":"update","layer":"stations","ts":"2025-10-26T12:30:45Z"}`),
	} {
		msg := &sarama.ConsumerMessage{Offset: 1, Value: v}
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("poison message returned %v", err)
		}
	}
	if len(fa.seen) != 0 {
		t.Fatalf("applied=%d want 0", len(fa.seen))
	}
}

func TestMissingTSFallsBackToMessageTime(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)
	ts := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{Timestamp: ts, Value: []byte(`{"version":1,"op":"delete","layer":"tracks"}`)}

	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(fa.seen) != 1 || !fa.seen[0].TS.Equal(ts) {
		t.Fatalf("seen=%v", fa.seen)
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	c := newConsumerForTest(&fakeApplier{})
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("ready before assignment")
	}
	h := c.handler()
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"layer-changes": {2, 0}}}
	_ = h.Setup(s)
	ok, parts := c.Readiness()
	if !ok || len(parts) != 2 || parts[0] != 0 || parts[1] != 2 {
		t.Fatalf("ready=%v parts=%v", ok, parts)
	}
	_ = h.Cleanup(s)
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("ready after cleanup")
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fa := &fakeApplier{}
	c := newConsumerForTest(fa)
	g := c.handler()
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes(1)}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes(2)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes(3)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes(4)}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}
