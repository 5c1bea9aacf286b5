package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomhq/loom/hook"
	"github.com/loomhq/loom/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Broker)(nil)
	_ hook.RunStarted    = (*Broker)(nil)
	_ hook.RunCompleted  = (*Broker)(nil)
	_ hook.RunFailed     = (*Broker)(nil)
	_ hook.RunPaused     = (*Broker)(nil)
	_ hook.RunResumed    = (*Broker)(nil)
	_ hook.RunCancelled  = (*Broker)(nil)
	_ hook.StepCompleted = (*Broker)(nil)
	_ hook.StepFailed    = (*Broker)(nil)
	_ hook.StepRetrying  = (*Broker)(nil)
	_ hook.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker fans run and step lifecycle events out to subscribers. It
// implements the hook lifecycle interfaces; register it on the engine's
// hook registry to feed it.
type Broker struct {
	topics *topicTable
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64
	totalDelivered atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) { b.bufferSize = n }
}

// WithLogger sets the broker's logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a stream broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      newTopicTable(),
		logger:      slog.Default(),
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook.
func (b *Broker) Name() string { return "stream" }

// Subscribe registers a subscriber on the given topics and returns it.
// The subscriber ID must be unique among live subscribers.
func (b *Broker) Subscribe(id string, topics ...string) (*Subscriber, error) {
	if len(topics) == 0 {
		topics = []string{TopicFirehose}
	}
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscribers[id]; exists {
		return nil, fmt.Errorf("stream: subscriber %q already exists", id)
	}
	sub := newSubscriber(id, b.bufferSize)
	b.subscribers[id] = sub
	for _, topic := range topics {
		b.topics.add(topic, sub)
	}
	return sub, nil
}

// Unsubscribe removes a subscriber from all topics and closes its
// channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.topics.removeAll(id)
	sub.close()
}

// Stats reports broker-wide publish and delivery counts.
func (b *Broker) Stats() (published, delivered int64) {
	return b.totalPublished.Load(), b.totalDelivered.Load()
}

// publish wraps the payload in an envelope and broadcasts it to the
// run's topics.
func (b *Broker) publish(evtType EventType, run *workflow.Run, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("stream: encode event data: %w", err)
	}
	evt := &Event{
		Type:       evtType,
		Timestamp:  time.Now(),
		RunID:      run.ID.String(),
		WorkflowID: run.WorkflowID,
		Data:       raw,
	}

	topics := []string{
		TopicFirehose,
		RunTopic(evt.RunID),
		WorkflowTopic(evt.WorkflowID),
	}
	b.totalPublished.Add(1)
	b.totalDelivered.Add(int64(b.topics.broadcast(topics, evt)))
	return nil
}

// OnRunStarted implements hook.RunStarted.
func (b *Broker) OnRunStarted(_ context.Context, run *workflow.Run) error {
	return b.publish(EventRunStarted, run, RunEventData{State: string(run.State)})
}

// OnRunCompleted implements hook.RunCompleted.
func (b *Broker) OnRunCompleted(_ context.Context, run *workflow.Run, elapsed time.Duration) error {
	return b.publish(EventRunCompleted, run, RunEventData{
		State:     string(run.State),
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// OnRunFailed implements hook.RunFailed.
func (b *Broker) OnRunFailed(_ context.Context, run *workflow.Run, stepName string, runErr error) error {
	data := RunEventData{State: string(run.State), StepName: stepName}
	if runErr != nil {
		data.Error = runErr.Error()
	}
	return b.publish(EventRunFailed, run, data)
}

// OnRunPaused implements hook.RunPaused. The resume token is a
// credential and is never streamed.
func (b *Broker) OnRunPaused(_ context.Context, run *workflow.Run, _ string) error {
	return b.publish(EventRunPaused, run, RunEventData{State: string(run.State)})
}

// OnRunResumed implements hook.RunResumed.
func (b *Broker) OnRunResumed(_ context.Context, run *workflow.Run, timedOut bool) error {
	return b.publish(EventRunResumed, run, RunEventData{
		State:    string(run.State),
		TimedOut: timedOut,
	})
}

// OnRunCancelled implements hook.RunCancelled.
func (b *Broker) OnRunCancelled(_ context.Context, run *workflow.Run, reason string) error {
	return b.publish(EventRunCancelled, run, RunEventData{
		State:  string(run.State),
		Reason: reason,
	})
}

// OnStepCompleted implements hook.StepCompleted.
func (b *Broker) OnStepCompleted(_ context.Context, run *workflow.Run, stepName string, elapsed time.Duration) error {
	return b.publish(EventStepCompleted, run, StepEventData{
		StepName:  stepName,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// OnStepFailed implements hook.StepFailed.
func (b *Broker) OnStepFailed(_ context.Context, run *workflow.Run, stepName string, stepErr error) error {
	data := StepEventData{StepName: stepName}
	if stepErr != nil {
		data.Error = stepErr.Error()
	}
	return b.publish(EventStepFailed, run, data)
}

// OnStepRetrying implements hook.StepRetrying.
func (b *Broker) OnStepRetrying(_ context.Context, run *workflow.Run, stepName string, attempt int, delay time.Duration) error {
	return b.publish(EventStepRetrying, run, StepEventData{
		StepName: stepName,
		Attempt:  attempt,
		DelayMs:  delay.Milliseconds(),
	})
}

// OnShutdown implements hook.Shutdown. All subscriber channels close.
func (b *Broker) OnShutdown(_ context.Context) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs = append(subs, sub)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.topics.removeAll(sub.ID())
		sub.close()
	}
}
