package messageplane

import (
	"context"
	"sync"
)

// handlerSubscription pairs a live Handler with a cancellation flag.
type handlerSubscription struct {
	handler   Handler
	cancelled bool
}

func (s *handlerSubscription) Cancel() {
	s.cancelled = true
}

// channelState holds one logical channel's buffered history (Stream) or
// latest-value-per-key (Compacted), plus its live subscribers.
type channelState struct {
	kind ChannelType

	mu      sync.Mutex
	log     []Message
	nextOff uint64
	subs    []*handlerSubscription

	latest     map[string]Message
	latestKeys []string
}

// MemoryAdapter is a single-process Adapter backed by in-memory channel
// state, serializing delivery per channel the way the teacher's
// message.Publisher serializes per journal partition. It is the adapter
// used when embedding OpenDT directly against dc-mock in a test harness,
// and by the unit tests for C3/C4/C6.
type MemoryAdapter struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewMemoryAdapter constructs an adapter. kinds pre-declares the channel
// names and types from the §4.1 table; channels not present there are
// created lazily on first use. Publish infers Compacted iff a key is
// supplied; Subscribe infers Compacted only for the two topology.*
// channels.
func NewMemoryAdapter(kinds map[string]ChannelType) *MemoryAdapter {
	a := &MemoryAdapter{channels: make(map[string]*channelState)}
	for name, kind := range kinds {
		a.channels[name] = &channelState{kind: kind, latest: make(map[string]Message)}
	}
	return a
}

func (a *MemoryAdapter) channel(name string, kind ChannelType) *channelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.channels[name]
	if !ok {
		c = &channelState{kind: kind, latest: make(map[string]Message)}
		a.channels[name] = c
	}
	return c
}

// Publish appends to a Stream channel's log, or replaces a Compacted
// channel's latest value for key, then synchronously delivers to current
// subscribers on the caller's goroutine.
func (a *MemoryAdapter) Publish(_ context.Context, channelName, key string, payload []byte) error {
	kind := Stream
	if key != "" {
		kind = Compacted
	}
	c := a.channel(channelName, kind)

	c.mu.Lock()
	var msg Message
	switch c.kind {
	case Compacted:
		if _, seen := c.latest[key]; !seen {
			c.latestKeys = append(c.latestKeys, key)
		}
		msg = Message{Key: key, Payload: payload}
		c.latest[key] = msg
	default:
		off := c.nextOff
		c.nextOff++
		msg = Message{Offset: off, Payload: payload}
		c.log = append(c.log, msg)
	}
	subs := append([]*handlerSubscription{}, c.subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		if !sub.cancelled {
			_ = sub.handler(msg)
		}
	}
	return nil
}

// Subscribe replays history (the full log for Stream, the latest value per
// key for Compacted) and then delivers subsequent Publishes synchronously,
// from the calling goroutine of Publish — matching spec.md §4.1's "handler
// invoked serially per partition" for this single-partition in-memory
// implementation.
func (a *MemoryAdapter) Subscribe(_ context.Context, channelName string, handler Handler) (Subscription, error) {
	kind := Stream
	if channelName == ChannelTopologyObserved || channelName == ChannelTopologyCalibrated {
		kind = Compacted
	}
	c := a.channel(channelName, kind)

	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &handlerSubscription{handler: handler}

	switch c.kind {
	case Compacted:
		for _, k := range c.latestKeys {
			_ = handler(c.latest[k])
		}
	default:
		for _, msg := range c.log {
			_ = handler(msg)
		}
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// CommittedOffset returns the highest offset appended so far for a Stream
// channel.
func (a *MemoryAdapter) CommittedOffset(channelName string) (uint64, bool) {
	a.mu.Lock()
	c, ok := a.channels[channelName]
	a.mu.Unlock()
	if !ok || c.kind != Stream {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.log) == 0 {
		return 0, true
	}
	return c.log[len(c.log)-1].Offset, true
}
