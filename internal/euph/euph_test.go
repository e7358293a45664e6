package euph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cove/internal/protocol"
)

type fakeStore struct {
	mu   chan struct{}
	msgs []protocol.Message
}

func newFakeStore() *fakeStore { return &fakeStore{mu: make(chan struct{}, 16)} }

func (f *fakeStore) AddMessage(ctx context.Context, room string, msg protocol.Message) error {
	f.msgs = append(f.msgs, msg)
	select {
	case f.mu <- struct{}{}:
	default:
	}
	return nil
}

func wsURL(s *httptest.Server) string { return "ws" + s.URL[len("http"):] }

// serverConn wraps one accepted connection of a tiny scripted server:
// recv reads the next inbound frame and send writes a reply, so each
// test server scripts its exchange in order.
type serverConn struct {
	t *testing.T
	c *websocket.Conn
}

func (sc *serverConn) recv() protocol.Packet {
	sc.t.Helper()
	var pkt protocol.Packet
	if err := sc.c.ReadJSON(&pkt); err != nil {
		sc.t.Fatalf("server ReadJSON: %v", err)
	}
	return pkt
}

func (sc *serverConn) send(id uint64, typ string, payload any) {
	sc.t.Helper()
	pkt, err := protocol.Encode(id, typ, payload)
	if err != nil {
		sc.t.Fatalf("encode: %v", err)
	}
	if err := sc.c.WriteJSON(pkt); err != nil {
		sc.t.Fatalf("server WriteJSON: %v", err)
	}
}

func newHappyJoinServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		sc := &serverConn{t: t, c: c}

		roomPkt := sc.recv()
		sc.send(roomPkt.ID, protocol.TypeRoomReply, protocol.RoomReply{})

		idPkt := sc.recv()
		sc.send(idPkt.ID, protocol.TypeIdentifyReply, protocol.IdentifyReply{
			You:    &protocol.Session{ID: "s1", Name: "u"},
			Others: []protocol.Session{},
		})

		for {
			var pkt protocol.Packet
			if err := c.ReadJSON(&pkt); err != nil {
				return
			}
		}
	}))
}

func TestHappyJoin(t *testing.T) {
	srv := newHappyJoinServer(t)
	defer srv.Close()

	store := newFakeStore()
	r := New(Config{ServerURL: wsURL(srv), Timeout: 2 * time.Second}, "test", "ident-1", "u", store)
	defer r.Close()

	deadline := time.After(2 * time.Second)
	for {
		if r.Status().Kind == StatusNominal {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("room never reached Nominal, last status %v", r.Status())
		case <-time.After(10 * time.Millisecond):
		}
	}

	you, others := r.Present()
	if you.Name != "u" {
		t.Fatalf("You.Name = %q, want u", you.Name)
	}
	if len(others) != 0 {
		t.Fatalf("Others = %v, want empty", others)
	}
}

func newInvalidRoomServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		sc := &serverConn{t: t, c: c}
		roomPkt := sc.recv()
		sc.send(roomPkt.ID, protocol.TypeRoomReply, protocol.RoomReply{InvalidRoomReason: "no such room"})
	}))
}

func TestInvalidRoomStops(t *testing.T) {
	srv := newInvalidRoomServer(t)
	defer srv.Close()

	r := New(Config{ServerURL: wsURL(srv), Timeout: 2 * time.Second}, "nope", "ident-1", "u", nil)
	defer r.Close()

	deadline := time.After(2 * time.Second)
	for {
		st := r.Status()
		if st.Kind == StatusStopped {
			if st.Stop.Kind != StopInvalidRoom || st.Stop.Reason != "no such room" {
				t.Fatalf("Stop = %+v, want InvalidRoom(no such room)", st.Stop)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("room never stopped, last status %v", st)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCloseTerminatesDriver(t *testing.T) {
	srv := newHappyJoinServer(t)
	defer srv.Close()

	r := New(Config{ServerURL: wsURL(srv), Timeout: 2 * time.Second}, "test", "ident-1", "u", nil)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
