package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	run:<runID>           — events for a specific run
//	workflow:<workflowID>  — events for all runs of a workflow
//	firehose               — everything
const TopicFirehose = "firehose"

// RunTopic returns the topic name for a specific run.
func RunTopic(runID string) string { return "run:" + runID }

// WorkflowTopic returns the topic name for all runs of a workflow.
func WorkflowTopic(workflowID string) string { return "workflow:" + workflowID }

// ValidateTopic checks whether a topic string is well formed.
func ValidateTopic(topic string) error {
	if topic == TopicFirehose {
		return nil
	}
	idx := strings.IndexByte(topic, ':')
	if idx <= 0 || idx == len(topic)-1 {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch topic[:idx] {
	case "run", "workflow":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity %q", topic[:idx])
	}
}

// topicTable maps topics to their subscriber sets. Safe for concurrent
// use.
type topicTable struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

func newTopicTable() *topicTable {
	return &topicTable{topics: make(map[string]map[string]*Subscriber)}
}

func (t *topicTable) add(topic string, sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs, ok := t.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		t.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

func (t *topicTable) remove(topic, subscriberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs, ok := t.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(t.topics, topic)
	}
}

func (t *topicTable) removeAll(subscriberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, subs := range t.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(t.topics, topic)
		}
	}
}

// broadcast delivers an event to every subscriber on any of the given
// topics, deduplicating subscribers on more than one. Returns how many
// deliveries succeeded.
func (t *topicTable) broadcast(topics []string, evt *Event) int {
	t.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range t.topics[topic] {
			seen[id] = sub
		}
	}
	t.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

func (t *topicTable) topicCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics)
}

func (t *topicTable) subscriberCount(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}
