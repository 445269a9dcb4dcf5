// Package relay fans committed operations out across server nodes
// through redis pub/sub. Each document keeps a single committing node;
// other nodes subscribe and mirror its entries to their local
// sessions, so clients can be spread over several processes.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cowrite/cowrite/internal/ot"
	"github.com/cowrite/cowrite/internal/store"
)

// Envelope is the relayed form of a committed entry, tagged with the
// publishing node so subscribers can skip their own traffic.
type Envelope struct {
	Node        string        `json:"node"`
	Revision    int           `json:"revision"`
	Op          *ot.Operation `json:"op"`
	Author      string        `json:"author"`
	CommittedAt time.Time     `json:"committedAt"`
}

// Entry converts the envelope back to a log entry.
func (env Envelope) Entry() store.Entry {
	return store.Entry{
		Revision:    env.Revision,
		Op:          env.Op,
		Author:      env.Author,
		CommittedAt: env.CommittedAt,
	}
}

// Relay publishes and subscribes per-document channels.
type Relay struct {
	rdb  *redis.Client
	node string
}

func New(rdb *redis.Client, node string) *Relay {
	return &Relay{rdb: rdb, node: node}
}

func channel(docID string) string { return "cowrite:doc:" + docID }

// Publish sends a committed entry to the document channel.
func (r *Relay) Publish(ctx context.Context, docID string, e store.Entry) error {
	payload, err := json.Marshal(Envelope{
		Node:        r.node,
		Revision:    e.Revision,
		Op:          e.Op,
		Author:      e.Author,
		CommittedAt: e.CommittedAt,
	})
	if err != nil {
		return fmt.Errorf("relay: encode entry: %w", err)
	}
	return r.rdb.Publish(ctx, channel(docID), payload).Err()
}

// Subscribe delivers envelopes from other nodes to fn until ctx ends.
// Malformed payloads are logged and skipped.
func (r *Relay) Subscribe(ctx context.Context, docID string, fn func(Envelope)) {
	pubsub := r.rdb.Subscribe(ctx, channel(docID))
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("relay: bad payload on %s: %v", msg.Channel, err)
					continue
				}
				if env.Node == r.node {
					continue
				}
				fn(env)
			}
		}
	}()
}
