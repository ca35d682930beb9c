package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received on a subscribed topic.
type Message struct {
	Topic   string
	Payload string
}

// Subscription delivers topic messages in arrival order until closed.
type Subscription struct {
	pubsub *redis.PubSub
	out    chan Message
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Subscribe listens on one or more topics. Every topic is confirmed before it
// returns, so messages published afterwards are not missed. Messages from all
// topics share one channel in arrival order.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("subscribe: no topics")
	}
	pubsub := c.rdb.Subscribe(ctx, topics...)
	for range topics {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", strings.Join(topics, ","), err)
		}
	}

	sub := &Subscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
	}
	sub.wg.Add(1)
	go sub.forward(pubsub.Channel())
	return sub, nil
}

// Messages returns the delivery channel. It is closed after Close.
func (s *Subscription) Messages() <-chan Message {
	return s.out
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}

func (s *Subscription) forward(in <-chan *redis.Message) {
	defer s.wg.Done()
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Topic: msg.Channel, Payload: msg.Payload}:
			case <-s.done:
				return
			}
		}
	}
}
