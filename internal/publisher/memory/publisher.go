// Package memory records page notifications in process for tests.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every notification in publish order.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	perTopic map[string]int
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{perTopic: make(map[string]int)}
}

// FailWith makes every later Publish return err without recording the
// message. A nil err restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message. IDs are "<topic>-<n>", counted per topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.perTopic[topic]++
	id := topic + "-" + strconv.Itoa(p.perTopic[topic])
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of every recorded message.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the messages published to topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
