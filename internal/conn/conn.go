// Package conn implements the Framed Connection: a duplex websocket stream
// carrying protocol.Packet frames, with periodic keepalives and
// bounded-latency timeout enforcement. A single Dial call produces three
// independently-owned handles — Sender, Receiver, and Maintenance — that
// share one failure domain: any transport error on any of them tears down
// all three.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cove/internal/protocol"
)

// ErrClosed is returned by Sender.Send once the connection has failed
// or been closed, regardless of cause. Receiver.Recv reports failures
// as *Error instead.
var ErrClosed = errors.New("conn: closed")

// errLocalClose marks a deliberate Close by the owning driver, as
// opposed to a transport failure.
var errLocalClose = errors.New("conn: closed locally")

// Kind classifies why a Framed Connection died.
type Kind int

const (
	// KindTransport covers socket/websocket failures: dial errors, resets,
	// unexpected closes.
	KindTransport Kind = iota
	// KindProtocol covers a frame that failed to decode as JSON.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error wraps a Kind-classified failure of the underlying connection.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("conn: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// shared is the failure domain the three handles all reach into. Only
// fail ever mutates it after construction; every other access is a read
// guarded by the same mutex for visibility, not exclusion (fail is
// idempotent via closed).
type shared struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	err    error
	doneCh chan struct{}
}

func (s *shared) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.doneCh)
	_ = s.conn.Close()
}

func (s *shared) failed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.err
}

// Sender writes frames to the connection. Its writes are serialized so
// that, within one room, outbound frames are written in the order Send
// is entered.
type Sender struct {
	s  *shared
	mu sync.Mutex
}

// Close tears down the connection deliberately, unblocking any in-flight
// Recv and failing any future Send/Recv with ErrClosed.
func (tx *Sender) Close() {
	tx.s.fail(errLocalClose)
}

// Send writes pkt to the connection. It fails only with ErrClosed.
func (tx *Sender) Send(pkt protocol.Packet) error {
	if closed, _ := tx.s.failed(); closed {
		return ErrClosed
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	_ = tx.s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := tx.s.conn.WriteJSON(pkt); err != nil {
		tx.s.fail(&Error{Kind: KindTransport, Err: err})
		return ErrClosed
	}
	return nil
}

// Receiver reads frames from the connection.
type Receiver struct {
	s *shared
}

// Recv returns the next frame. It returns (Packet{}, nil, false) on a
// clean close and (Packet{}, err, true) on any other failure; err is
// always a *Error in the failure case.
func (rx *Receiver) Recv() (protocol.Packet, error, bool) {
	var pkt protocol.Packet
	if err := rx.s.conn.ReadJSON(&pkt); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			rx.s.fail(fmt.Errorf("clean close"))
			return protocol.Packet{}, nil, false
		}
		kind := KindTransport
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			// A JSON decode error on an otherwise-live socket is a
			// protocol violation, not a transport failure.
			kind = KindProtocol
		}
		cerr := &Error{Kind: kind, Err: err}
		rx.s.fail(cerr)
		return protocol.Packet{}, cerr, true
	}
	return pkt, nil, true
}

// Maintenance performs periodic keepalives and enforces the connection
// timeout. It must be driven concurrently with Sender/Receiver use; if Run
// returns an error, the connection is dead: Sender.Send fails with
// ErrClosed and Receiver.Recv with an *Error from then on.
type Maintenance struct {
	s       *shared
	timeout time.Duration

	pongMu   sync.Mutex
	lastPong time.Time
}

// Run drives keepalives until ctx is cancelled or the connection fails.
// A nil return means ctx was cancelled with the connection still healthy;
// any other return means the connection died.
func (m *Maintenance) Run(ctx context.Context) error {
	m.s.conn.SetPongHandler(func(string) error {
		m.pongMu.Lock()
		m.lastPong = time.Now()
		m.pongMu.Unlock()
		return nil
	})

	interval := m.timeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.pongMu.Lock()
	m.lastPong = time.Now()
	m.pongMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.s.doneCh:
			_, err := m.s.failed()
			return err
		case <-ticker.C:
			m.pongMu.Lock()
			since := time.Since(m.lastPong)
			m.pongMu.Unlock()
			if since > m.timeout {
				err := &Error{Kind: KindTransport, Err: fmt.Errorf("keepalive timeout after %s", since)}
				m.s.fail(err)
				return err
			}

			_ = m.s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := m.s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cerr := &Error{Kind: KindTransport, Err: err}
				m.s.fail(cerr)
				return cerr
			}
		}
	}
}

const writeTimeout = 5 * time.Second

// Dial opens a websocket connection to url and returns the three Framed
// Connection handles. timeout governs both keepalive enforcement and the
// initial handshake.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Sender, *Receiver, *Maintenance, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	wsConn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, nil, &Error{Kind: KindTransport, Err: fmt.Errorf("dial %s: %w", url, err)}
	}
	wsConn.SetReadLimit(1 << 20)

	slog.Debug("conn dialed", "url", url)

	s := &shared{conn: wsConn, doneCh: make(chan struct{})}
	return &Sender{s: s}, &Receiver{s: s}, &Maintenance{s: s, timeout: timeout}, nil
}
