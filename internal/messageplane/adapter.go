// Package messageplane abstracts the ordered pub/sub log the core consumes
// and produces against (C5, spec.md §4.1). It exposes two channel
// semantics:
//
//   - Stream: append-only, retention by time, consumers checkpoint offsets.
//   - Compacted: key/value, the broker retains the latest value per key;
//     a subscriber reads the latest value on subscribe and then receives
//     updates on change.
//
// The broker itself (Kafka, a Gazette journal, or anything else that
// implements this ordering contract) is an external collaborator per
// spec.md §1; this package only defines the contract the core depends on,
// plus an in-memory implementation suitable for embedding OpenDT in a
// single process and for tests.
package messageplane

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChannelType selects stream or compacted delivery semantics.
type ChannelType int

const (
	Stream ChannelType = iota
	Compacted
)

// Message is one envelope delivered to a Handler.
type Message struct {
	// Offset is the committed position within a stream channel. It is
	// zero-valued (and meaningless) for compacted channels.
	Offset uint64
	// Key is the compaction key for compacted channels; empty for streams.
	Key string
	// Payload is the raw JSON payload (§6.1/§6.2 wire shapes).
	Payload []byte
}

// Handler is invoked serially, in partition order, for every Message on a
// channel a consumer subscribed to. Returning an error does not stop
// delivery of subsequent messages; callers that need to halt should do so
// via their own context.
type Handler func(Message) error

// Adapter is the contract the Window Engine, Topology State, Power
// Tracker, and Calibration Engine consume and produce through.
type Adapter interface {
	// Subscribe delivers messages on channel to handler, invoked serially.
	// For a Compacted channel, the latest value per key (if any) is
	// delivered immediately, followed by updates as they're published.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	// Publish writes payload to channel, at-least-once. key is required
	// for Compacted channels and ignored for Stream channels.
	Publish(ctx context.Context, channel string, key string, payload []byte) error

	// CommittedOffset returns the last offset this adapter instance has
	// observed as durably committed for a Stream channel, so a consumer
	// can resume after restart (spec.md §4.1).
	CommittedOffset(channel string) (uint64, bool)
}

// Subscription lets a consumer stop receiving messages.
type Subscription interface {
	Cancel()
}

// PublishJSON marshals v and publishes it, mirroring the JSON wire shapes
// of §6.1/§6.2.
func PublishJSON(ctx context.Context, a Adapter, channel, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("go.opendt.dev/E004: marshaling payload for %s: %w", channel, err)
	}
	return a.Publish(ctx, channel, key, b)
}

// Channel names used by the core (spec.md §4.1 table).
const (
	ChannelWorkload           = "workload"
	ChannelPower              = "power"
	ChannelTopologyObserved   = "topology.observed"
	ChannelTopologyCalibrated = "topology.calibrated"
	ChannelResults            = "results"
)

// DatacenterKey is the single compaction key topology.* channels use.
const DatacenterKey = "datacenter"
