// Package bus is the per-job publish/subscribe multiplexer. Events are
// transient: an observer receives everything published after it attaches
// and nothing from before. Durable state lives in the store.
package bus

import (
	"sync"

	"briefline/internal/domain"
)

// Sink is a write-capable observer endpoint. A Send error drops the sink
// from its channel; it is never retried.
type Sink interface {
	Send(domain.Event) error
}

// Registry owns one channel per job ID. Channels are created lazily on
// first subscribe or publish and removed once their observer set empties.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	sinks map[Sink]struct{}
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*channel)}
}

// Subscribe attaches a sink to a job's channel and sends the connected
// hello. Attaching never replays earlier events. The hello goes out
// under the registry lock, before the sink joins the observer set, so
// no concurrent publish can deliver a job event ahead of it; a sink
// whose hello fails is never attached.
func (r *Registry) Subscribe(jobID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := s.Send(domain.Event{Kind: domain.KindConnected, Text: "Connected to job stream"}); err != nil {
		return
	}
	ch, ok := r.channels[jobID]
	if !ok {
		ch = &channel{sinks: make(map[Sink]struct{})}
		r.channels[jobID] = ch
	}
	ch.sinks[s] = struct{}{}
}

// Unsubscribe detaches a sink. The channel is dropped when its observer
// set becomes empty.
func (r *Registry) Unsubscribe(jobID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[jobID]
	if !ok {
		return
	}
	delete(ch.sinks, s)
	if len(ch.sinks) == 0 {
		delete(r.channels, jobID)
	}
}

// Publish broadcasts an event to every sink currently attached for the
// job ID. Sinks that fail to accept the write are removed; delivery to
// the rest continues. Publishing with no observers is a no-op.
func (r *Registry) Publish(jobID string, ev domain.Event) {
	// Snapshot under the lock, write outside it so a slow observer
	// cannot block concurrent subscribes or other publishers.
	r.mu.Lock()
	ch, ok := r.channels[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sinks := make([]Sink, 0, len(ch.sinks))
	for s := range ch.sinks {
		sinks = append(sinks, s)
	}
	r.mu.Unlock()

	var failed []Sink
	for _, s := range sinks {
		if err := s.Send(ev); err != nil {
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		r.Unsubscribe(jobID, s)
	}
}

// Observers returns the number of sinks attached for a job ID.
func (r *Registry) Observers(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[jobID]; ok {
		return len(ch.sinks)
	}
	return 0
}
