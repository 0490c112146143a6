package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Listener holds a dedicated pgx connection LISTENing on JobsChannel and
// wakes a single handler on every NOTIFY, adapted from this codebase's
// events.NotifyListener. Unlike that listener (which fans out to arbitrary
// per-session channels for WebSocket delivery), this one only ever
// subscribes to the one fixed job-queue channel, so the generation-counter
// dance around concurrent Subscribe/Unsubscribe races is unnecessary — a
// single LISTEN is issued at Start and issued again on each new connection
// after a reconnect.
type Listener struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex

	onNotify func()

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener builds a Listener. onNotify is invoked (from the receive
// loop's goroutine — callers must not block) once per NOTIFY on JobsChannel;
// the pipeline worker pool uses it only as a wake-up signal and always
// re-claims via Queue.Claim rather than trusting the NOTIFY payload, so a
// dropped notification during a reconnect never strands a job.
func NewListener(connString string, onNotify func()) *Listener {
	return &Listener{connString: connString, onNotify: onNotify}
}

// Start opens the dedicated LISTEN connection and begins receiving.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{JobsChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("failed to LISTEN %s: %w", JobsChannel, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("broker listener started", "channel", JobsChannel)
	return nil
}

func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		_, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("broker NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.onNotify()
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("broker listener reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{JobsChannel}.Sanitize()); err != nil {
			slog.Error("broker re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			continue
		}

		l.conn = conn
		slog.Info("broker listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection.
func (l *Listener) Stop(ctx context.Context) {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
