package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/models"
)

var errSourceDown = errors.New("realtime endpoint unavailable")

// fakeSource opens in-memory streams, or fails while fail is set
type fakeSource struct {
	mu      sync.Mutex
	fail    bool
	streams map[string]*fakeStream
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(map[string]*fakeStream)}
}

func (s *fakeSource) Subscribe(ctx context.Context, filter models.TopicFilter) (channels.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errSourceDown
	}
	st := &fakeStream{
		records: make(chan models.ChangeRecord, 256),
		errs:    make(chan error, 1),
	}
	s.streams[filter.Table] = st
	return st, nil
}

func (s *fakeSource) stream(table string) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[table]
}

type fakeStream struct {
	records chan models.ChangeRecord
	errs    chan error
}

func (s *fakeStream) Records() <-chan models.ChangeRecord { return s.records }
func (s *fakeStream) Errors() <-chan error                { return s.errs }
func (s *fakeStream) Close() error                        { return nil }

// fakeQuerier returns canned counts
type fakeQuerier struct {
	mu     sync.Mutex
	counts map[models.CounterKey]int64
	err    error
	calls  int
}

func (q *fakeQuerier) Counts(ctx context.Context, since time.Time) (map[models.CounterKey]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return q.counts, nil
}

func (q *fakeQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
