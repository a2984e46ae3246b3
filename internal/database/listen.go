package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/channels"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationConn is a dedicated connection that has issued LISTEN
type NotificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a NotificationConn listening on channel
type ListenFunc func(ctx context.Context, channel string) (NotificationConn, error)

// PoolListener takes a connection out of pool and issues LISTEN on it. The
// connection is hijacked so it never returns to the pool in LISTEN state.
func PoolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (NotificationConn, error) {
		pooled, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		conn := pooled.Hijack()

		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Close(context.Background())
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return conn, nil
	}
}

// ListenSource implements channels.ChangeSource over PostgreSQL
// LISTEN/NOTIFY. Every Subscribe opens its own connection and applies the
// topic filter to the shared notification channel.
type ListenSource struct {
	listen  ListenFunc
	channel string
	logger  *slog.Logger
}

// NewListenSource creates a source on notifyChannel. An empty channel
// uses DefaultNotifyChannel.
func NewListenSource(listen ListenFunc, notifyChannel string, logger *slog.Logger) *ListenSource {
	if notifyChannel == "" {
		notifyChannel = DefaultNotifyChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ListenSource{
		listen:  listen,
		channel: notifyChannel,
		logger:  logger.With("component", "listen_source"),
	}
}

// Subscribe opens a filtered stream
func (s *ListenSource) Subscribe(ctx context.Context, filter models.TopicFilter) (channels.Stream, error) {
	conn, err := s.listen(ctx, s.channel)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &listenStream{
		conn:    conn,
		filter:  filter,
		logger:  s.logger.With("filter", filter.String()),
		records: make(chan models.ChangeRecord, 64),
		errs:    make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go st.run(streamCtx)

	s.logger.Info("listening for changes", "notify_channel", s.channel, "filter", filter.String())
	return st, nil
}

type listenStream struct {
	conn    NotificationConn
	filter  models.TopicFilter
	logger  *slog.Logger
	records chan models.ChangeRecord
	errs    chan error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (st *listenStream) Records() <-chan models.ChangeRecord { return st.records }
func (st *listenStream) Errors() <-chan error                { return st.errs }

// Close stops the reader and closes the connection
func (st *listenStream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.cancel()
		<-st.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = st.conn.Close(ctx)
	})
	return err
}

func (st *listenStream) run(ctx context.Context) {
	defer close(st.done)

	for {
		n, err := st.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			st.errs <- fmt.Errorf("wait for notification: %w", err)
			return
		}

		rec, err := DecodeChange(n.Payload)
		if err != nil {
			// One bad payload does not end the stream
			st.logger.Warn("dropping undecodable notification", "error", err)
			continue
		}
		if !st.filter.Matches(rec) {
			continue
		}

		select {
		case st.records <- rec:
		case <-ctx.Done():
			return
		}
	}
}
