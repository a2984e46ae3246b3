package channels

import (
	"context"
	"errors"
	"sync"

	"github.com/funneldash/dashcore/internal/models"
)

var errUnavailable = errors.New("realtime endpoint unavailable")

// fakeSource hands out fakeStreams, or fails while fail is set
type fakeSource struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	filters []models.TopicFilter
	streams []*fakeStream
}

func (s *fakeSource) Subscribe(ctx context.Context, filter models.TopicFilter) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.filters = append(s.filters, filter)
	if s.fail {
		return nil, errUnavailable
	}
	st := newFakeStream()
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeSource) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) lastStream() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

type fakeStream struct {
	records chan models.ChangeRecord
	errs    chan error

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		records: make(chan models.ChangeRecord, 16),
		errs:    make(chan error, 1),
	}
}

func (s *fakeStream) Records() <-chan models.ChangeRecord { return s.records }
func (s *fakeStream) Errors() <-chan error                { return s.errs }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recorder collects Manager output
type recorder struct {
	mu      sync.Mutex
	records []models.ChangeRecord
	changes []models.StateChange
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Deliver: func(name string, rec models.ChangeRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.records = append(r.records, rec)
		},
		OnStateChange: func(change models.StateChange) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, change)
		},
	}
}

func (r *recorder) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *recorder) states() []models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConnectionState, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

func (r *recorder) countState(state models.ConnectionState) int {
	n := 0
	for _, s := range r.states() {
		if s == state {
			n++
		}
	}
	return n
}
