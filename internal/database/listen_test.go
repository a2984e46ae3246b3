package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn replays queued notifications, then blocks until ctx ends or
// fail is called
type fakeConn struct {
	notes  chan *pgconn.Notification
	errs   chan error
	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		notes: make(chan *pgconn.Notification, 16),
		errs:  make(chan error, 1),
	}
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-c.notes:
		return n, nil
	case err := <-c.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) notify(payload string) {
	c.notes <- &pgconn.Notification{Channel: DefaultNotifyChannel, Payload: payload}
}

func TestListenSource_FiltersAndDecodes(t *testing.T) {
	conn := newFakeConn()
	var listened string
	src := NewListenSource(func(ctx context.Context, channel string) (NotificationConn, error) {
		listened = channel
		return conn, nil
	}, "", nil)

	stream, err := src.Subscribe(context.Background(), models.TopicFilter{Table: "diagnosis_sessions", Operation: models.OpInsert})
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, DefaultNotifyChannel, listened)

	conn.notify(`{"table":"users","operation":"INSERT","new":{"id":"u-1"}}`)
	conn.notify(`garbage`)
	conn.notify(`{"table":"diagnosis_sessions","operation":"UPDATE","new":{"id":"s-0"}}`)
	conn.notify(`{"table":"diagnosis_sessions","operation":"INSERT","new":{"id":"s-1"}}`)

	select {
	case rec := <-stream.Records():
		assert.Equal(t, "s-1", rec.New["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no record delivered")
	}
}

func TestListenSource_ConnectionErrorEndsStream(t *testing.T) {
	conn := newFakeConn()
	src := NewListenSource(func(ctx context.Context, channel string) (NotificationConn, error) {
		return conn, nil
	}, "custom_channel", nil)

	stream, err := src.Subscribe(context.Background(), models.TopicFilter{Table: "users"})
	require.NoError(t, err)

	conn.errs <- errors.New("conn reset by peer")

	select {
	case err := <-stream.Errors():
		assert.Contains(t, err.Error(), "conn reset by peer")
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}

	require.NoError(t, stream.Close())
	assert.True(t, conn.isClosed())
	assert.NoError(t, stream.Close(), "close is idempotent")
}

func TestListenSource_SubscribeFailure(t *testing.T) {
	src := NewListenSource(func(ctx context.Context, channel string) (NotificationConn, error) {
		return nil, errors.New("too many connections")
	}, "", nil)

	_, err := src.Subscribe(context.Background(), models.TopicFilter{Table: "users"})
	assert.Error(t, err)
}

func TestListenSource_CloseStopsReader(t *testing.T) {
	conn := newFakeConn()
	src := NewListenSource(func(ctx context.Context, channel string) (NotificationConn, error) {
		return conn, nil
	}, "", nil)

	stream, err := src.Subscribe(context.Background(), models.TopicFilter{Table: "users"})
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	assert.True(t, conn.isClosed())

	select {
	case err := <-stream.Errors():
		t.Fatalf("unexpected error after close: %v", err)
	default:
	}
}
