// Package protocol defines the JSON wire grammar exchanged with a Euphoria
// chat server: client-issued commands, server replies, and server-pushed
// notifications, all carried inside one envelope type over a websocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Packet type discriminators. Commands carry no suffix, replies carry
// "-reply", notifications carry "-event" — this lets a single Type switch
// tell a caller both the packet's kind and its payload shape.
const (
	TypeRoom     = "room"
	TypeIdentify = "identify"
	TypeNick     = "nick"
	TypeSend     = "send"
	TypeWho      = "who"
	TypeAuth     = "auth"

	TypeRoomReply     = "room-reply"
	TypeIdentifyReply = "identify-reply"
	TypeNickReply     = "nick-reply"
	TypeSendReply     = "send-reply"
	TypeWhoReply      = "who-reply"
	TypeAuthReply     = "auth-reply"

	TypeJoinEvent = "join-event"
	TypeNickEvent = "nick-event"
	TypePartEvent = "part-event"
	TypeSendEvent = "send-event"
)

// Packet is the envelope exchanged over the websocket. Id is present on
// commands and replies and absent on notifications. Field names use
// underscores per spec.
type Packet struct {
	ID   uint64          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsCmd reports whether t names a client-to-server command.
func IsCmd(t string) bool {
	switch t {
	case TypeRoom, TypeIdentify, TypeNick, TypeSend, TypeWho, TypeAuth:
		return true
	default:
		return false
	}
}

// IsReply reports whether t names a server reply to a command.
func IsReply(t string) bool {
	switch t {
	case TypeRoomReply, TypeIdentifyReply, TypeNickReply, TypeSendReply, TypeWhoReply, TypeAuthReply:
		return true
	default:
		return false
	}
}

// IsNotification reports whether t names a server-pushed notification.
func IsNotification(t string) bool {
	switch t {
	case TypeJoinEvent, TypeNickEvent, TypePartEvent, TypeSendEvent:
		return true
	default:
		return false
	}
}

// Encode marshals a command/reply/notification payload into a Packet with
// the given id (ids are meaningless, and should be 0, for notifications).
func Encode(id uint64, typ string, payload any) (Packet, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Packet{ID: id, Type: typ, Data: data}, nil
}

// Decode unmarshals p's Data into out. Callers should only call this after
// checking p.Type is a known, expected variant.
func (p Packet) Decode(out any) error {
	if len(p.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", p.Type, err)
	}
	return nil
}

// MsgID identifies a persisted chat message. Ids are totally ordered and
// chronological order equals id order within a server.
type MsgID uint64

// Session is a connected client's ephemeral per-connection identity, as
// opposed to the persistent identity string passed at Room creation.
type Session struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is an immutable chat message as seen on the wire.
type Message struct {
	ID      MsgID   `json:"id"`
	Parent  *MsgID  `json:"parent,omitempty"`
	Sender  Session `json:"sender"`
	Time    int64   `json:"time"`
	Content string  `json:"content"`
}

// --- command payloads ---

type RoomCmd struct {
	Name string `json:"name"`
}

type IdentifyCmd struct {
	Nick     string `json:"nick"`
	Identity string `json:"identity"`
}

type NickCmd struct {
	Nick string `json:"nick"`
}

type SendCmd struct {
	Content string `json:"content"`
	Parent  *MsgID `json:"parent,omitempty"`
}

type WhoCmd struct{}

type AuthCmd struct {
	Password string `json:"password"`
}

// --- reply payloads ---
//
// Replies model their sub-variants (e.g. Success vs InvalidRoom) via
// presence of optional fields rather than a second discriminator, since
// the enclosing Packet.Type already fixes which reply shape is in play.

type RoomReply struct {
	InvalidRoomReason string `json:"invalid_room_reason,omitempty"`
}

func (r RoomReply) OK() bool { return r.InvalidRoomReason == "" }

type IdentifyReply struct {
	You                   *Session  `json:"you,omitempty"`
	Others                []Session `json:"others,omitempty"`
	LastMessage           *MsgID    `json:"last_message,omitempty"`
	InvalidNickReason     string    `json:"invalid_nick_reason,omitempty"`
	InvalidIdentityReason string    `json:"invalid_identity_reason,omitempty"`
}

func (r IdentifyReply) OK() bool {
	return r.InvalidNickReason == "" && r.InvalidIdentityReason == ""
}

type NickReply struct {
	You               *Session `json:"you,omitempty"`
	InvalidNickReason string   `json:"invalid_nick_reason,omitempty"`
}

func (r NickReply) OK() bool { return r.InvalidNickReason == "" }

type SendReply struct {
	Message              *Message `json:"message,omitempty"`
	InvalidContentReason string   `json:"invalid_content_reason,omitempty"`
}

func (r SendReply) OK() bool { return r.InvalidContentReason == "" }

type WhoReply struct {
	You    Session   `json:"you"`
	Others []Session `json:"others"`
}

type AuthReply struct {
	InvalidPasswordReason string `json:"invalid_password_reason,omitempty"`
}

func (r AuthReply) OK() bool { return r.InvalidPasswordReason == "" }

// --- notification payloads ---

type JoinEvent struct {
	Who Session `json:"who"`
}

type NickEvent struct {
	Who Session `json:"who"`
}

type PartEvent struct {
	Who Session `json:"who"`
}

type SendEvent struct {
	Message Message `json:"message"`
}
