package euph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cove/internal/conn"
	"cove/internal/protocol"
)

// verified is the two-state "room_verified" gate (spec.md §4.C, §9
// supplemented feature): before a RoomSuccess reply has ever been seen,
// a transport failure is terminal; after, it is transient. The terminal
// reason is carried by the Stopped status, not by this gate.
type verified int

const (
	verifiedUnknown verified = iota
	verifiedYes
)

// sessionOutcome reports why one connection attempt's session ended.
type sessionOutcome int

const (
	outcomeDropped sessionOutcome = iota // dead man's switch fired
	outcomeTransient                     // transport died, may retry
	outcomeFatal                         // terminal business failure
)

// run is the room driver: spec.md §4.C's connect → identify →
// [reconnect loop] → terminal state machine, driven until the dead man's
// switch fires or a fatal condition is reached.
func (r *Room) run(initialNick string) {
	defer close(r.doneCh)
	defer r.present.clear()

	verifiedState := verifiedUnknown
	bo := newBackoff(r.cfg.Timeout/4, r.cfg.Timeout*10)
	nick := initialNick

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		r.setStatus(Status{Kind: StatusConnecting})

		ctx, cancel := context.WithCancel(context.Background())
		tx, rx, maint, err := conn.Dial(ctx, r.cfg.ServerURL, r.cfg.Timeout)
		if err != nil {
			cancel()
			if verifiedState == verifiedYes {
				r.setStatus(Status{Kind: StatusReconnecting})
				if !r.sleepBackoff(bo) {
					return
				}
				continue
			}
			r.setStatus(Status{Kind: StatusStopped, Stop: StopReason{Kind: StopCouldNotConnect}})
			return
		}

		outcome, stop, gotVerified, nextNick := r.runSession(ctx, tx, rx, maint, nick)
		tx.Close()
		cancel()
		r.setSender(nil)
		r.correlator.FailAll(ErrConnectionLost)
		r.present.clear()
		nick = nextNick
		if gotVerified {
			verifiedState = verifiedYes
			bo.reset()
		}

		switch outcome {
		case outcomeDropped:
			return
		case outcomeFatal:
			r.setStatus(Status{Kind: StatusStopped, Stop: stop})
			return
		case outcomeTransient:
			if verifiedState == verifiedYes {
				r.setStatus(Status{Kind: StatusReconnecting})
				if !r.sleepBackoff(bo) {
					return
				}
				continue
			}
			r.setStatus(Status{Kind: StatusStopped, Stop: StopReason{Kind: StopCouldNotConnect}})
			return
		}
	}
}

// sleepBackoff waits out one reconnect delay, returning false if the
// dead man's switch fires first.
func (r *Room) sleepBackoff(bo *backoff) bool {
	t := time.NewTimer(bo.next())
	defer t.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// runSession drives one live connection: sends Room then Identify,
// handles NickRequired round-trips, then pumps notifications and reply
// frames until the connection dies or the dead man's switch fires.
func (r *Room) runSession(ctx context.Context, tx *conn.Sender, rx *conn.Receiver, maint *conn.Maintenance, nick string) (outcome sessionOutcome, stop StopReason, gotVerified bool, lastNick string) {
	lastNick = nick
	r.setSender(tx)

	maintDone := make(chan error, 1)
	go func() { maintDone <- maint.Run(ctx) }()

	roomID := r.correlator.Register()
	pkt, err := protocol.Encode(roomID, protocol.TypeRoom, protocol.RoomCmd{Name: r.name})
	if err != nil {
		return outcomeFatal, StopReason{Kind: StopInvalidRoom, Reason: err.Error()}, false, lastNick
	}
	if err := tx.Send(pkt); err != nil {
		r.correlator.Forget(roomID)
		return outcomeTransient, StopReason{}, false, lastNick
	}

	type recvMsg struct {
		pkt protocol.Packet
		err error
		ok  bool
	}
	recvCh := make(chan recvMsg, 1)
	go func() {
		for {
			pkt, err, ok := rx.Recv()
			recvCh <- recvMsg{pkt, err, ok}
			if !ok || err != nil {
				return
			}
		}
	}()

	identifySent := false

	for {
		select {
		case <-r.stopCh:
			return outcomeDropped, StopReason{}, gotVerified, lastNick

		case <-maintDone:
			return outcomeTransient, StopReason{}, gotVerified, lastNick

		case m := <-recvCh:
			if !m.ok {
				return outcomeTransient, StopReason{}, gotVerified, lastNick
			}
			if m.err != nil {
				return outcomeTransient, StopReason{}, gotVerified, lastNick
			}

			switch {
			case m.pkt.ID == roomID:
				var rep protocol.RoomReply
				if err := m.pkt.Decode(&rep); err != nil {
					slog.Warn("malformed room reply", "room", r.name, "error", err)
					continue
				}
				if !rep.OK() {
					return outcomeFatal, StopReason{Kind: StopInvalidRoom, Reason: rep.InvalidRoomReason}, gotVerified, lastNick
				}
				gotVerified = true
				if lastNick != "" && !identifySent {
					identifySent = true
					r.setStatus(Status{Kind: StatusIdentifying})
					r.sendIdentify(lastNick)
				} else if !identifySent {
					r.setStatus(Status{Kind: StatusNickRequired})
				}

			case protocol.IsReply(m.pkt.Type):
				if m.pkt.Type == protocol.TypeIdentifyReply {
					var rep protocol.IdentifyReply
					if err := m.pkt.Decode(&rep); err != nil {
						slog.Warn("malformed identify reply", "room", r.name, "error", err)
						continue
					}
					if rep.InvalidIdentityReason != "" {
						return outcomeFatal, StopReason{Kind: StopInvalidIdentity, Reason: rep.InvalidIdentityReason}, gotVerified, lastNick
					}
					if rep.InvalidNickReason != "" {
						identifySent = false
						r.setStatus(Status{Kind: StatusNickRequired, NickErr: fmt.Errorf("%s", rep.InvalidNickReason)})
						continue
					}
					if rep.You != nil {
						r.present.reset(*rep.You, rep.Others)
						lastNick = rep.You.Name
					}
					r.setStatus(Status{Kind: StatusNominal})
					continue
				}
				if !r.correlator.Complete(m.pkt) {
					slog.Debug("unmatched reply", "room", r.name, "id", m.pkt.ID, "type", m.pkt.Type)
				}

			case protocol.IsNotification(m.pkt.Type):
				r.applyNotification(ctx, m.pkt)

			default:
				slog.Warn("unknown packet variant", "room", r.name, "type", m.pkt.Type)
			}
		}
	}
}

func (r *Room) sendIdentify(nick string) {
	id := r.correlator.Register()
	pkt, err := protocol.Encode(id, protocol.TypeIdentify, protocol.IdentifyCmd{Nick: nick, Identity: r.identity})
	if err != nil {
		r.correlator.Forget(id)
		return
	}
	r.mu.Lock()
	tx := r.tx
	r.mu.Unlock()
	if tx == nil {
		r.correlator.Forget(id)
		return
	}
	if err := tx.Send(pkt); err != nil {
		r.correlator.Forget(id)
	}
}

func (r *Room) applyNotification(ctx context.Context, pkt protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeJoinEvent:
		var ev protocol.JoinEvent
		if err := pkt.Decode(&ev); err == nil {
			r.present.join(ev.Who)
		}
	case protocol.TypePartEvent:
		var ev protocol.PartEvent
		if err := pkt.Decode(&ev); err == nil {
			r.present.part(ev.Who)
		}
	case protocol.TypeNickEvent:
		var ev protocol.NickEvent
		if err := pkt.Decode(&ev); err == nil {
			r.present.nick(ev.Who)
		}
	case protocol.TypeSendEvent:
		var ev protocol.SendEvent
		if err := pkt.Decode(&ev); err == nil && r.store != nil {
			if err := r.store.AddMessage(ctx, r.name, ev.Message); err != nil {
				slog.Error("store add message failed", "room", r.name, "error", err)
			}
		}
	default:
		slog.Warn("unknown notification variant", "room", r.name, "type", pkt.Type)
	}
}
