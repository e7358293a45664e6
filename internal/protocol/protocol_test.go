package protocol

import (
	"reflect"
	"testing"
)

// decodeInto decodes pkt's payload into a fresh zero value of the same
// concrete type as want and returns it, so round-trip cases can compare
// against their own input without a second, hand-duplicated literal.
func decodeInto(t *testing.T, pkt Packet, want any) any {
	t.Helper()
	got := reflect.New(reflect.TypeOf(want))
	if err := pkt.Decode(got.Interface()); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got.Elem().Interface()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     string
		payload any
	}{
		{"room cmd", TypeRoom, RoomCmd{Name: "lobby"}},
		{"identify cmd", TypeIdentify, IdentifyCmd{Nick: "u", Identity: "ident-1"}},
		{"send cmd with parent", TypeSend, SendCmd{Content: "hi", Parent: msgIDPtr(3)}},
		{"who reply", TypeWhoReply, WhoReply{You: Session{ID: "s1", Name: "u"}}},
		{"send event", TypeSendEvent, SendEvent{Message: Message{ID: 7, Content: "hi"}}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pkt, err := Encode(42, c.typ, c.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if pkt.Type != c.typ {
				t.Fatalf("Type = %q, want %q", pkt.Type, c.typ)
			}

			got := decodeInto(t, pkt, c.payload)
			if !reflect.DeepEqual(got, c.payload) {
				t.Fatalf("decode round-trip = %+v, want %+v", got, c.payload)
			}
		})
	}
}

func TestRoomReplyOK(t *testing.T) {
	if !(RoomReply{}).OK() {
		t.Error("empty RoomReply should be OK")
	}
	if (RoomReply{InvalidRoomReason: "no such room"}).OK() {
		t.Error("RoomReply with reason should not be OK")
	}
}

func TestIdentifyReplyDecode(t *testing.T) {
	pkt, err := Encode(1, TypeIdentifyReply, IdentifyReply{
		You:    &Session{ID: "s1", Name: "u"},
		Others: []Session{},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got IdentifyReply
	if err := pkt.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.You == nil || got.You.Name != "u" {
		t.Fatalf("You = %+v, want name u", got.You)
	}
	if !got.OK() {
		t.Error("expected OK reply")
	}
}

func TestKindClassification(t *testing.T) {
	if !IsCmd(TypeSend) || IsReply(TypeSend) || IsNotification(TypeSend) {
		t.Error("TypeSend should classify as a command only")
	}
	if !IsReply(TypeSendReply) {
		t.Error("TypeSendReply should classify as a reply")
	}
	if !IsNotification(TypeSendEvent) {
		t.Error("TypeSendEvent should classify as a notification")
	}
	if IsCmd("unknown-future-variant") || IsReply("unknown-future-variant") || IsNotification("unknown-future-variant") {
		t.Error("unknown variants should classify as none of the three")
	}
}

func msgIDPtr(id MsgID) *MsgID { return &id }
