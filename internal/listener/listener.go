// Package listener keeps one PostgreSQL LISTEN subscription alive and surfaces its notifications.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnectFailed is returned when the connection cannot be established
	ErrConnectFailed = errors.New("listener connect failed")
	// ErrSubscribeFailed is returned when LISTEN is rejected
	ErrSubscribeFailed = errors.New("listener subscribe failed")
	// ErrConnectionLost is returned when the session dropped while waiting.
	// The caller must reconnect before waiting again.
	ErrConnectionLost = errors.New("listener connection lost")
	// ErrNotListening is returned by a wait on a session that is not subscribed
	ErrNotListening = errors.New("listener is not subscribed")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("listener closed")
)

// State of the subscription session
type State int32

const (
	Disconnected State = iota
	Subscribing
	Listening
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Subscribing:
		return "subscribing"
	case Listening:
		return "listening"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is the subset of *pgx.Conn the listener drives
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	IsClosed() bool
	Close(ctx context.Context) error
}

// Dialer opens a new session to connString
type Dialer func(ctx context.Context, connString string) (Session, error)

// PgxDialer opens a dedicated, unpooled pgx connection
func PgxDialer(ctx context.Context, connString string) (Session, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Option configures a Listener
type Option func(*Listener)

// WithDialer replaces the pgx dialer
func WithDialer(d Dialer) Option {
	return func(l *Listener) { l.dial = d }
}

// WithConnectTimeout bounds connect plus LISTEN
func WithConnectTimeout(d time.Duration) Option {
	return func(l *Listener) { l.connectTimeout = d }
}

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(l *Listener) { l.log = logger }
}

// Listener owns a single subscription session on one channel.
// It is driven by one goroutine; reconnect policy belongs to the caller.
type Listener struct {
	connString     string
	channel        string
	connectTimeout time.Duration
	dial           Dialer
	log            *log.Logger

	mu      sync.Mutex
	session Session
	state   State
}

// New creates a disconnected listener for channel
func New(connString, channel string, opts ...Option) *Listener {
	l := &Listener{
		connString:     connString,
		channel:        channel,
		connectTimeout: 10 * time.Second,
		dial:           PgxDialer,
		state:          Disconnected,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = log.New()
	}
	return l
}

// Channel returns the subscribed channel name
func (l *Listener) Channel() string {
	return l.channel
}

// State returns the current session state
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ConnectAndSubscribe replaces any existing session with a new one subscribed to the channel.
// It returns only once LISTEN has been acknowledged.
func (l *Listener) ConnectAndSubscribe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Closed {
		return ErrClosed
	}
	l.dropSessionLocked(ctx)
	l.state = Subscribing

	connectCtx := ctx
	if l.connectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, l.connectTimeout)
		defer cancel()
	}

	sess, err := l.dial(connectCtx, l.connString)
	if err != nil {
		l.state = Disconnected
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if _, err := sess.Exec(connectCtx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = sess.Close(context.WithoutCancel(ctx))
		l.state = Disconnected
		return fmt.Errorf("%w: channel %s: %w", ErrSubscribeFailed, l.channel, err)
	}

	l.session = sess
	l.state = Listening
	l.log.Info("Listening on channel '%s'", l.channel)
	return nil
}

// WaitForNotification blocks up to timeout. It returns (nil, nil) when the timeout elapses
// with no notification, which is the normal idle case. ErrConnectionLost moves the
// listener to Disconnected.
func (l *Listener) WaitForNotification(ctx context.Context, timeout time.Duration) (*message.Notification, error) {
	l.mu.Lock()
	switch l.state {
	case Closed:
		l.mu.Unlock()
		return nil, ErrClosed
	case Listening:
	default:
		l.mu.Unlock()
		return nil, ErrNotListening
	}
	sess := l.session
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := sess.WaitForNotification(waitCtx)
	if err == nil {
		return &message.Notification{
			Channel: n.Channel,
			Payload: n.Payload,
			PID:     n.PID,
		}, nil
	}

	if ctx.Err() != nil {
		if sess.IsClosed() {
			l.markLost(ctx, sess)
		}
		return nil, ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && !sess.IsClosed() {
		return nil, nil
	}

	l.markLost(ctx, sess)
	return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// Close ends the session and enters the terminal Closed state
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Closed {
		return nil
	}
	l.state = Closed
	if l.session == nil {
		return nil
	}
	err := l.session.Close(ctx)
	l.session = nil
	return err
}

func (l *Listener) markLost(ctx context.Context, sess Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != sess || l.state == Closed {
		return
	}
	l.dropSessionLocked(ctx)
	l.state = Disconnected
}

func (l *Listener) dropSessionLocked(ctx context.Context) {
	if l.session == nil {
		return
	}
	if err := l.session.Close(context.WithoutCancel(ctx)); err != nil {
		l.log.Debug("Closing previous session: %v", err)
	}
	l.session = nil
}
