package eventbus

import (
	"sync"
	"time"
)

// AuditDirection marks which side of the bus a message was observed on.
type AuditDirection string

const (
	AuditPublish AuditDirection = "publish"
	AuditReceive AuditDirection = "receive"
)

// AuditEntry is one record in the global audit trail.
type AuditEntry struct {
	Direction AuditDirection `json:"direction"`
	Channel   string         `json:"channel"`
	Payload   interface{}    `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// channelHistory stores bus history and the audit trail. Both are bounded:
// per-channel history evicts oldest entries past the channel limit, the
// audit log past the global limit. Eviction is approximate in the sense
// that it happens on append, never on a timer.
type channelHistory struct {
	mu           sync.RWMutex
	perChannel   map[string][]Event
	audit        []AuditEntry
	channelLimit int
	auditLimit   int
}

func newChannelHistory(channelLimit, auditLimit int) *channelHistory {
	return &channelHistory{
		perChannel:   make(map[string][]Event),
		channelLimit: channelLimit,
		auditLimit:   auditLimit,
	}
}

// append records an event in the channel's history, evicting the oldest
// entry when the bound is exceeded.
func (h *channelHistory) append(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.perChannel[event.Channel], event)
	if overflow := len(entries) - h.channelLimit; overflow > 0 {
		entries = entries[overflow:]
	}
	h.perChannel[event.Channel] = entries
}

// appendAudit records a traffic entry in the global audit log.
func (h *channelHistory) appendAudit(direction AuditDirection, channel string, payload interface{}, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.audit = append(h.audit, AuditEntry{
		Direction: direction,
		Channel:   channel,
		Payload:   payload,
		Timestamp: ts,
	})
	if overflow := len(h.audit) - h.auditLimit; overflow > 0 {
		h.audit = h.audit[overflow:]
	}
}

// history returns up to count entries for channel, oldest first. count <= 0
// means all retained entries. The result is a copy.
func (h *channelHistory) history(channel string, count int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.perChannel[channel]
	if count > 0 && count < len(entries) {
		entries = entries[len(entries)-count:]
	}
	out := make([]Event, len(entries))
	copy(out, entries)
	return out
}

// historyRange returns up to count entries for channel whose timestamps
// fall within [from, to], oldest first. A zero from or to leaves that end
// of the window unbounded.
func (h *channelHistory) historyRange(channel string, from, to time.Time, count int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Event
	for _, event := range h.perChannel[channel] {
		if !from.IsZero() && event.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && event.Timestamp.After(to) {
			continue
		}
		out = append(out, event)
	}
	if count > 0 && count < len(out) {
		out = out[len(out)-count:]
	}
	return out
}

// latest returns up to count entries for channel, newest first.
func (h *channelHistory) latest(channel string, count int) []Event {
	oldest := h.history(channel, count)
	for i, j := 0, len(oldest)-1; i < j; i, j = i+1, j-1 {
		oldest[i], oldest[j] = oldest[j], oldest[i]
	}
	return oldest
}

// auditTrail returns a copy of up to count audit entries, newest last.
func (h *channelHistory) auditTrail(count int) []AuditEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.audit
	if count > 0 && count < len(entries) {
		entries = entries[len(entries)-count:]
	}
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	return out
}
