// Package eventbus provides the publish/subscribe transport connecting
// nucleus modules: hierarchical dot-separated channels, single-wildcard
// pattern subscriptions, bounded per-channel history, and a global audit
// trail of all traffic. Transports are pluggable; the in-memory loopback
// is the default and a redis engine is available for multi-process buses.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is a message delivered through the bus.
type Event struct {
	// Channel is the concrete dot-separated channel the event was
	// published on, e.g. "perception.screen_changed".
	Channel string `json:"channel"`

	// Payload is the opaque event data. Payloads cross a JSON round-trip,
	// so subscribers observe JSON-shaped values.
	Payload interface{} `json:"payload"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// Handler is a callback invoked with the resolved channel and payload of
// every matching event. Handlers run as independent goroutines; a handler
// error is logged and never affects sibling handlers or the delivery loop.
type Handler func(ctx context.Context, event Event) error

// Logger is the structural logging interface the bus writes to. The
// nucleus Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Subscription is a single handler registration. Duplicate subscribe calls
// for the same (pattern, callback) pair accumulate independent
// registrations, each with its own ID, so each can be cancelled
// individually.
type Subscription struct {
	id        string
	pattern   string
	handler   Handler
	bus       *EventBus
	cancelled atomic.Bool
}

// ID returns the unique identifier of this registration.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the channel pattern this registration matches.
func (s *Subscription) Pattern() string { return s.pattern }

// Cancel removes this registration from the bus. Idempotent.
func (s *Subscription) Cancel() error {
	return s.bus.Unsubscribe(context.Background(), s)
}

// EventBus is the nucleus message bus. All methods are safe for concurrent
// use. The zero value is not usable; construct with New.
type EventBus struct {
	config  *Config
	logger  Logger
	history *channelHistory

	mu            sync.RWMutex
	subscriptions map[string][]*Subscription
	transport     Transport
	connected     bool
	closing       bool

	ctx    context.Context
	cancel context.CancelFunc
	loopWg sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64

	sink sinkHolder
}

// New creates an event bus with the given configuration and logger.
// Defaults are applied to unset config fields.
func New(config *Config, logger Logger) (*EventBus, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &EventBus{
		config:        config,
		logger:        logger,
		history:       newChannelHistory(config.HistoryLimit, config.AuditLimit),
		subscriptions: make(map[string][]*Subscription),
	}, nil
}

// Connect establishes the transport and starts the delivery loop.
func (b *EventBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return ErrAlreadyConnected
	}

	transport, err := newTransport(b.config)
	if err != nil {
		return err
	}
	if err := transport.Connect(ctx); err != nil {
		// The transport releases its own resources on a failed connect;
		// make sure nothing lingers on this exit path either.
		_ = transport.Disconnect(ctx)
		return err
	}

	b.transport = transport
	b.connected = true
	b.closing = false
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.loopWg.Add(1)
	go b.deliveryLoop(transport)

	b.emit(EventTypeBusConnected, map[string]interface{}{"engine": b.config.Engine})
	b.logger.Info("Event bus connected", "engine", b.config.Engine)
	return nil
}

// Disconnect unsubscribes every active pattern, stops the delivery loop,
// and releases the transport. Safe to call on every exit path, including
// after a failed Connect.
func (b *EventBus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	b.connected = false
	transport := b.transport
	patterns := make([]string, 0, len(b.subscriptions))
	for pattern := range b.subscriptions {
		patterns = append(patterns, pattern)
	}
	b.subscriptions = make(map[string][]*Subscription)
	cancel := b.cancel
	b.mu.Unlock()

	// Tear down transport interest pattern by pattern; one failure must
	// not keep the rest subscribed.
	for _, pattern := range patterns {
		if err := transport.Unsubscribe(ctx, pattern); err != nil {
			b.logger.Error("Failed to unsubscribe pattern during disconnect",
				"pattern", pattern, "error", err)
		}
	}

	cancel()
	err := transport.Disconnect(ctx)
	b.loopWg.Wait()

	b.emit(EventTypeBusDisconnected, nil)
	b.logger.Info("Event bus disconnected")
	return err
}

// Publish sends payload on channel. It delivers to the transient transport
// for real-time subscribers, appends to the bounded per-channel history,
// and records the message in the audit trail. History and audit failures
// are logged but never fail the publish.
func (b *EventBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	b.mu.RLock()
	connected := b.connected
	transport := b.transport
	b.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	now := time.Now()
	data, err := encodeEnvelope(channel, payload, now)
	if err != nil {
		return err
	}

	if err := transport.Publish(ctx, channel, data); err != nil {
		return err
	}

	b.history.append(Event{Channel: channel, Payload: payload, Timestamp: now})
	b.history.appendAudit(AuditPublish, channel, payload, now)
	return nil
}

// Subscribe registers callback for every channel matching pattern. The
// first subscriber for a brand-new pattern triggers the underlying
// transport subscription; later subscribers reuse it.
func (b *EventBus) Subscribe(ctx context.Context, pattern string, callback Handler) (*Subscription, error) {
	if callback == nil {
		return nil, ErrHandlerNil
	}
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	transport := b.transport
	sub := &Subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: callback,
		bus:     b,
	}
	existing := b.subscriptions[pattern]
	b.subscriptions[pattern] = append(existing, sub)
	isNewPattern := len(existing) == 0
	b.mu.Unlock()

	if isNewPattern {
		if err := transport.Subscribe(ctx, pattern); err != nil {
			// Roll back the registration so the registry never holds a
			// pattern the transport doesn't carry.
			b.removeSubscription(sub)
			return nil, err
		}
		b.emit(EventTypeChannelCreated, map[string]interface{}{"pattern": pattern})
	}

	return sub, nil
}

// Unsubscribe removes one registration. When a pattern's callback list
// becomes empty, the pattern is dropped from the registry and the
// transport subscription is torn down. Idempotent per subscription.
func (b *EventBus) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if sub.bus != b {
		return ErrSubscriptionUnknown
	}
	if sub.cancelled.Swap(true) {
		return nil
	}

	patternGone := b.removeSubscription(sub)

	b.mu.RLock()
	connected := b.connected
	transport := b.transport
	b.mu.RUnlock()

	if patternGone && connected {
		if err := transport.Unsubscribe(ctx, sub.pattern); err != nil {
			b.logger.Error("Failed to tear down transport subscription",
				"pattern", sub.pattern, "error", err)
		}
		b.emit(EventTypeChannelDeleted, map[string]interface{}{"pattern": sub.pattern})
	}
	return nil
}

// removeSubscription deletes sub from the registry and reports whether its
// pattern's list became empty.
func (b *EventBus) removeSubscription(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.pattern]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subscriptions, sub.pattern)
		return true
	}
	b.subscriptions[sub.pattern] = subs
	return false
}

// History returns up to count retained events for channel, oldest first.
// Returns an empty slice, never an error, when the bus is disconnected or
// the channel has no history.
func (b *EventBus) History(channel string, count int) []Event {
	if !b.isConnected() {
		return []Event{}
	}
	return b.history.history(channel, count)
}

// HistoryRange returns up to count retained events for channel whose
// timestamps fall within [from, to], oldest first. A zero from or to
// leaves that end of the window open. Empty, never an error, when
// disconnected or absent.
func (b *EventBus) HistoryRange(channel string, from, to time.Time, count int) []Event {
	if !b.isConnected() {
		return []Event{}
	}
	return b.history.historyRange(channel, from, to, count)
}

// Latest returns up to count retained events for channel, newest first.
// Empty, never an error, when disconnected or absent.
func (b *EventBus) Latest(channel string, count int) []Event {
	if !b.isConnected() {
		return []Event{}
	}
	return b.history.latest(channel, count)
}

func (b *EventBus) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// AuditTrail returns a copy of up to count entries of the global audit
// log, oldest first.
func (b *EventBus) AuditTrail(count int) []AuditEntry {
	return b.history.auditTrail(count)
}

// Patterns returns all patterns currently held in the subscription
// registry.
func (b *EventBus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subscriptions))
	for pattern := range b.subscriptions {
		out = append(out, pattern)
	}
	return out
}

// SubscriberCount returns the number of registrations held for pattern.
func (b *EventBus) SubscriberCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[pattern])
}

// Stats returns delivery counters for monitoring and tests.
func (b *EventBus) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}

// deliveryLoop is the single long-running task that receives raw messages
// from the transport, decodes envelopes, matches patterns, and dispatches
// callbacks. A fatal transport error triggers an automatic disconnect, a
// fixed backoff, then one reconnect attempt; if that fails the loop
// terminates and the condition is surfaced through logs only.
func (b *EventBus) deliveryLoop(transport Transport) {
	defer b.loopWg.Done()

	for {
		messages := transport.Messages()
		for msg := range messages {
			b.dispatch(msg)
		}

		b.mu.RLock()
		closing := b.closing
		b.mu.RUnlock()
		if closing {
			return
		}

		b.logger.Error("Event bus transport failed, attempting reconnect",
			"backoff", b.config.ReconnectBackoff)

		// Release the dead transport before building its replacement so
		// engine resources (redis client, pubsub) never outlive the loop
		// iteration that abandoned them.
		if err := transport.Disconnect(context.Background()); err != nil {
			b.logger.Debug("Failed to release dead transport", "error", err)
		}
		time.Sleep(b.config.ReconnectBackoff)

		next, err := b.reconnect()
		if err != nil {
			b.logger.Error("Event bus reconnect failed, delivery loop terminating", "error", err)
			b.mu.Lock()
			b.connected = false
			b.mu.Unlock()
			return
		}
		transport = next
		b.logger.Info("Event bus reconnected", "engine", b.config.Engine)
	}
}

// reconnect builds a fresh transport and re-establishes every registered
// pattern on it.
func (b *EventBus) reconnect() (Transport, error) {
	transport, err := newTransport(b.config)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := transport.Connect(ctx); err != nil {
		_ = transport.Disconnect(ctx)
		return nil, err
	}

	b.mu.Lock()
	patterns := make([]string, 0, len(b.subscriptions))
	for pattern := range b.subscriptions {
		patterns = append(patterns, pattern)
	}
	b.transport = transport
	b.connected = true
	b.mu.Unlock()

	for _, pattern := range patterns {
		if err := transport.Subscribe(ctx, pattern); err != nil {
			b.logger.Error("Failed to restore pattern after reconnect",
				"pattern", pattern, "error", err)
		}
	}
	return transport, nil
}

// dispatch decodes one raw message and invokes every matching callback.
// Each callback runs in its own goroutine so a hanging handler stalls only
// itself; panics and errors are caught and logged per handler.
func (b *EventBus) dispatch(msg RawMessage) {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		b.logger.Error("Dropping undecodable bus message", "channel", msg.Channel, "error", err)
		b.dropped.Add(1)
		return
	}
	channel := env.Channel
	if channel == "" {
		channel = msg.Channel
	}

	b.history.appendAudit(AuditReceive, channel, env.Payload, time.Now())

	// Match against a snapshot so concurrent subscribe/unsubscribe never
	// mutates the structure under this iteration.
	b.mu.RLock()
	var matched []*Subscription
	for pattern, subs := range b.subscriptions {
		if MatchChannel(pattern, channel) {
			matched = append(matched, subs...)
		}
	}
	b.mu.RUnlock()

	event := Event{Channel: channel, Payload: env.Payload, Timestamp: env.Timestamp}
	for _, sub := range matched {
		if sub.cancelled.Load() {
			continue
		}
		go b.invoke(sub, event)
	}
}

// invoke runs one callback with panic and error containment.
func (b *EventBus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"channel", event.Channel, "subscription", sub.id, "panic", r)
			b.emit(EventTypeDeliveryFailed, map[string]interface{}{
				"channel": event.Channel, "subscription": sub.id,
			})
		}
	}()

	if err := sub.handler(b.ctx, event); err != nil {
		b.logger.Error("Event handler failed",
			"channel", event.Channel, "subscription", sub.id, "error", err)
		b.emit(EventTypeDeliveryFailed, map[string]interface{}{
			"channel": event.Channel, "subscription": sub.id, "error": err.Error(),
		})
		return
	}
	b.delivered.Add(1)
}

// validatePattern enforces the single-wildcard contract: at most one "*",
// matched with prefix/suffix semantics. Multi-wildcard globs are rejected
// rather than silently extended.
func validatePattern(pattern string) error {
	if pattern == "" {
		return ErrPatternEmpty
	}
	if strings.Count(pattern, "*") > 1 {
		return ErrPatternMultiStar
	}
	return nil
}

// MatchChannel reports whether a concrete channel matches a subscription
// pattern. Patterns without "*" require exact equality; a pattern "a*b"
// matches any channel starting with "a" and ending with "b".
func MatchChannel(pattern, channel string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == channel
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(channel, prefix) && strings.HasSuffix(channel, suffix)
}
