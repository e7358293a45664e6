// Package euph implements the Room Session FSM (spec.md §4.C): the
// per-room driver that dials a Euphoria server, identifies, tracks
// presence, and reconnects with backoff, exposing a small command API to
// callers and a Status for observers.
package euph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cove/internal/conn"
	"cove/internal/protocol"
	"cove/internal/replies"
)

// Config carries the per-room connection parameters from the external
// config surface (spec.md §6): server URL, and the single timeout value
// that governs both keepalive and reply waits.
type Config struct {
	ServerURL string
	Timeout   time.Duration
}

// Store is the narrow slice of the Message Store that the Room Session
// FSM needs: persisting a server-confirmed Send (spec.md §4.C
// "Notification path... Send is persisted via the Message Store").
type Store interface {
	AddMessage(ctx context.Context, room string, msg protocol.Message) error
}

// Room is the public handle to one room's driver. Its zero value is not
// usable; construct with New. Dropping the last reference without
// calling Close leaks the driver goroutine, so callers must Close it
// (spec.md §4.C "dead man's switch", §9).
type Room struct {
	cfg      Config
	name     string
	identity string
	store    Store

	correlator *replies.Correlator
	present    *present

	mu     sync.Mutex
	status Status
	tx     *conn.Sender // non-nil only while connected

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Room and starts its driver immediately. initialNick may
// be empty, in which case the room enters NickRequired after connecting
// instead of Identifying.
func New(cfg Config, name, identity, initialNick string, store Store) *Room {
	r := &Room{
		cfg:        cfg,
		name:       name,
		identity:   identity,
		store:      store,
		correlator: replies.New(),
		present:    newPresent(),
		status:     Status{Kind: StatusConnecting},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go r.run(initialNick)
	return r
}

// Close drops the dead man's switch and blocks until the driver has torn
// down its connection and exited (spec.md T1: no further side effects
// beyond a bounded delay).
func (r *Room) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Status returns the room's current FSM state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Present returns the client's own session and everyone else currently
// joined. Both are zero/empty outside Nominal.
func (r *Room) Present() (protocol.Session, []protocol.Session) {
	return r.present.snapshot()
}

func (r *Room) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
	slog.Info("room status", "room", r.name, "status", s.String())
}

func (r *Room) statusKind() StatusKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Kind
}

func (r *Room) setSender(tx *conn.Sender) {
	r.mu.Lock()
	r.tx = tx
	r.mu.Unlock()
}

// cmd issues one command frame and waits for its reply, implementing
// spec.md §4.C's "cmd(kind) -> reply" request path: allocate an id,
// register a waiter, write the frame, and let cancellation of ctx drop
// the waiter while the (already-sent) frame's late reply is discarded.
func (r *Room) cmd(ctx context.Context, typ string, payload any) (protocol.Packet, error) {
	select {
	case <-r.stopCh:
		return protocol.Packet{}, ErrClosed
	default:
	}
	r.mu.Lock()
	tx := r.tx
	r.mu.Unlock()
	if tx == nil {
		return protocol.Packet{}, ErrNotConnected
	}

	id := r.correlator.Register()
	pkt, err := protocol.Encode(id, typ, payload)
	if err != nil {
		r.correlator.Forget(id)
		return protocol.Packet{}, fmt.Errorf("euph: encode %s: %w", typ, err)
	}
	if err := tx.Send(pkt); err != nil {
		r.correlator.Forget(id)
		return protocol.Packet{}, ErrConnectionLost
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.correlator.Wait(waitCtx, id)
}

// Send issues a Send command and, on success, persists the confirmed
// message through the Store.
func (r *Room) Send(ctx context.Context, content string, parent *protocol.MsgID) (protocol.Message, error) {
	if r.statusKind() != StatusNominal {
		return protocol.Message{}, ErrNotPresent
	}
	pkt, err := r.cmd(ctx, protocol.TypeSend, protocol.SendCmd{Content: content, Parent: parent})
	if err != nil {
		return protocol.Message{}, err
	}
	if pkt.Type != protocol.TypeSendReply {
		return protocol.Message{}, ErrIncorrectReplyType
	}
	var rep protocol.SendReply
	if err := pkt.Decode(&rep); err != nil {
		return protocol.Message{}, err
	}
	if !rep.OK() {
		return protocol.Message{}, fmt.Errorf("euph: send rejected: %s", rep.InvalidContentReason)
	}

	if r.store != nil {
		if err := r.store.AddMessage(ctx, r.name, *rep.Message); err != nil {
			slog.Error("store add message failed", "room", r.name, "error", err)
		}
	}
	return *rep.Message, nil
}

// Nick requests a nickname change. A rejection surfaces InvalidNickReason
// as a call error rather than a status transition (spec.md §7).
func (r *Room) Nick(ctx context.Context, nick string) error {
	pkt, err := r.cmd(ctx, protocol.TypeNick, protocol.NickCmd{Nick: nick})
	if err != nil {
		return err
	}
	if pkt.Type != protocol.TypeNickReply {
		return ErrIncorrectReplyType
	}
	var rep protocol.NickReply
	if err := pkt.Decode(&rep); err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("euph: invalid nick: %s", rep.InvalidNickReason)
	}
	r.present.setSelfNick(nick)
	return nil
}

// Who requests the current session roster directly from the server.
func (r *Room) Who(ctx context.Context) (protocol.Session, []protocol.Session, error) {
	pkt, err := r.cmd(ctx, protocol.TypeWho, protocol.WhoCmd{})
	if err != nil {
		return protocol.Session{}, nil, err
	}
	if pkt.Type != protocol.TypeWhoReply {
		return protocol.Session{}, nil, ErrIncorrectReplyType
	}
	var rep protocol.WhoReply
	if err := pkt.Decode(&rep); err != nil {
		return protocol.Session{}, nil, err
	}
	return rep.You, rep.Others, nil
}

// SetNick supplies the nick the room was missing, moving NickRequired to
// Identifying (spec.md §4.C "NickRequired -> user sets nick ->
// Identifying"). It is a no-op error outside NickRequired.
func (r *Room) SetNick(nick string) error {
	if r.statusKind() != StatusNickRequired {
		return ErrNotConnected
	}
	r.setStatus(Status{Kind: StatusIdentifying})
	r.sendIdentify(nick)
	return nil
}

// Auth submits a room password (spec.md §4 supplemented auth flow,
// original_source src/ui/euph/auth.rs).
func (r *Room) Auth(ctx context.Context, password string) error {
	pkt, err := r.cmd(ctx, protocol.TypeAuth, protocol.AuthCmd{Password: password})
	if err != nil {
		return err
	}
	if pkt.Type != protocol.TypeAuthReply {
		return ErrIncorrectReplyType
	}
	var rep protocol.AuthReply
	if err := pkt.Decode(&rep); err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("euph: invalid password: %s", rep.InvalidPasswordReason)
	}
	return nil
}
