package updates

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// Forwarder owns the subscriber feeding one update topic and broadcasts each
// well-formed envelope to the pool. A malformed message is logged, acked, and
// skipped; it must never stop the stream.
type Forwarder struct {
	topic      string
	subscriber message.Subscriber
	pool       *Pool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewForwarder(topic string, subscriber message.Subscriber, pool *Pool) *Forwarder {
	return &Forwarder{
		topic:      topic,
		subscriber: subscriber,
		pool:       pool,
	}
}

func (f *Forwarder) Start(ctx context.Context) error {
	if f == nil || f.subscriber == nil {
		return nil
	}
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.running = true
	f.done = make(chan struct{})
	f.mu.Unlock()

	ch, err := f.subscriber.Subscribe(runCtx, f.topic)
	if err != nil {
		f.mu.Lock()
		if f.cancel != nil {
			f.cancel()
		}
		f.cancel = nil
		f.running = false
		close(f.done)
		f.done = nil
		f.mu.Unlock()
		return err
	}
	go f.consume(ch)
	return nil
}

func (f *Forwarder) Stop() {
	if f == nil {
		return
	}
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = nil
	f.running = false
	done := f.done
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (f *Forwarder) IsRunning() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Forwarder) consume(ch <-chan *message.Message) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	defer close(done)

	log.Info().Str("component", "updates").Str("topic", f.topic).Msg("forwarder started")
	for msg := range ch {
		if _, err := DecodeUpdate(msg.Payload); err != nil {
			log.Warn().Err(err).Str("component", "updates").Str("topic", f.topic).Msg("dropping malformed update")
			msg.Ack()
			continue
		}
		f.pool.Broadcast(msg.Payload)
		msg.Ack()
	}
	log.Info().Str("component", "updates").Str("topic", f.topic).Msg("forwarder stopped")
}
