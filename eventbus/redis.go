package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisTransport rides redis pub/sub. Bus wildcard patterns translate
// directly to redis glob patterns (a single "*" matching any run of
// characters), so PSUBSCRIBE carries both exact channels and patterns.
type redisTransport struct {
	config *Config

	mu       sync.Mutex
	client   *redis.Client
	pubsub   *redis.PubSub
	messages chan RawMessage
	running  bool
	wg       sync.WaitGroup
}

func newRedisTransport(config *Config) *redisTransport {
	return &redisTransport{config: config}
}

func (t *redisTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrAlreadyConnected
	}

	url := t.config.Redis.URL
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	if t.config.Redis.Username != "" {
		opts.Username = t.config.Redis.Username
	}
	if t.config.Redis.Password != "" {
		opts.Password = t.config.Redis.Password
	}
	if t.config.Redis.DB != 0 {
		opts.DB = t.config.Redis.DB
	}
	if t.config.Redis.PoolSize > 0 {
		opts.PoolSize = t.config.Redis.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		// Release the half-open connection on the failed connect path.
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	t.client = client
	t.pubsub = client.PSubscribe(ctx)
	t.messages = make(chan RawMessage, t.config.BufferSize)
	t.running = true

	t.wg.Add(1)
	go t.forward(t.pubsub, t.messages)
	return nil
}

// forward pumps redis messages into the bus message stream. Closing the
// pubsub terminates the pump, which closes the stream so the delivery
// loop observes the disconnect.
func (t *redisTransport) forward(pubsub *redis.PubSub, messages chan RawMessage) {
	defer t.wg.Done()
	defer close(messages)
	for msg := range pubsub.Channel() {
		messages <- RawMessage{Channel: msg.Channel, Data: []byte(msg.Payload)}
	}
}

func (t *redisTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	pubsub := t.pubsub
	client := t.client
	t.mu.Unlock()

	var firstErr error
	if err := pubsub.Close(); err != nil {
		firstErr = err
	}
	t.wg.Wait()
	if err := client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (t *redisTransport) Publish(ctx context.Context, channel string, data []byte) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrNotConnected
	}
	client := t.client
	t.mu.Unlock()

	if err := client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", channel, err)
	}
	return nil
}

func (t *redisTransport) Subscribe(ctx context.Context, pattern string) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrNotConnected
	}
	pubsub := t.pubsub
	t.mu.Unlock()

	if err := pubsub.PSubscribe(ctx, pattern); err != nil {
		return fmt.Errorf("redis psubscribe %s failed: %w", pattern, err)
	}
	return nil
}

func (t *redisTransport) Unsubscribe(ctx context.Context, pattern string) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	pubsub := t.pubsub
	t.mu.Unlock()

	if err := pubsub.PUnsubscribe(ctx, pattern); err != nil {
		return fmt.Errorf("redis punsubscribe %s failed: %w", pattern, err)
	}
	return nil
}

func (t *redisTransport) Messages() <-chan RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages
}
