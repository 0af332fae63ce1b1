package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"briefline/internal/domain"
)

// streamSink adapts an SSE sender to a bus sink. Workers publish
// concurrently, so sends are serialized here; the response writer is not
// safe for concurrent use.
type streamSink struct {
	mu   sync.Mutex
	send sse.Sender
}

func (s *streamSink) Send(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.Data(ev)
}

func (s *server) registerStream(group *huma.Group) {
	sse.Register(group, huma.Operation{
		OperationID: "stream-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobID}/stream",
		Summary:     "Stream a job's events",
		Description: "Attaches an observer to the job's event channel. The first event is a connected acknowledgment; history is not replayed. Durable state is available via the load endpoint.",
	}, map[string]any{
		"message": domain.Event{},
	}, func(ctx context.Context, input *jobIDInput, send sse.Sender) {
		sink := &streamSink{send: send}
		s.cfg.Bus.Subscribe(input.JobID, sink)
		s.cfg.Metrics.Observers.Inc()
		defer func() {
			s.cfg.Bus.Unsubscribe(input.JobID, sink)
			s.cfg.Metrics.Observers.Dec()
		}()
		<-ctx.Done()
	})
}
