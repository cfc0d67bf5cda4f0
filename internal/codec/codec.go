// Package codec implements the protocol codec from spec §4.A: encoding and
// decoding of the driver's structured-frame envelope, `\x00[TYPE]<json>\n`,
// plus plain text lines. The envelope and opcode-reader shape are grounded
// on the teacher's internal/net/packet reader/writer, generalized from a
// binary L1J wire format to the spec's text-based frame envelope.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mudforge/driver/internal/errs"
	"golang.org/x/text/encoding/traditionalchinese"
)

// Type is one of the closed set of registered frame types (spec §4.A).
type Type string

const (
	TypeStats      Type = "STATS"
	TypeMap        Type = "MAP"
	TypeCombat     Type = "COMBAT"
	TypeEquipment  Type = "EQUIPMENT"
	TypeQuest      Type = "QUEST"
	TypeComm       Type = "COMM"
	TypeSound      Type = "SOUND"
	TypeGiphy      Type = "GIPHY"
	TypeIDE        Type = "IDE"
	TypeGUI        Type = "GUI"
	TypeSession    Type = "SESSION"
	TypeTime       Type = "TIME"
	TypeGametime   Type = "GAMETIME"
	TypeCompletion Type = "COMPLETION"
	TypeAuth       Type = "AUTH"
	TypeVisibility Type = "VISIBILITY"
	// TypeCommand is the inbound-only envelope for a raw command line, used
	// by clients that prefer framing plaintext input instead of sending it
	// unframed.
	TypeCommand Type = "COMMAND"
	TypePong    Type = "PONG"
)

var registered = map[Type]bool{
	TypeStats: true, TypeMap: true, TypeCombat: true, TypeEquipment: true,
	TypeQuest: true, TypeComm: true, TypeSound: true, TypeGiphy: true,
	TypeIDE: true, TypeGUI: true, TypeSession: true, TypeTime: true,
	TypeGametime: true, TypeCompletion: true, TypeAuth: true, TypeVisibility: true,
	TypeCommand: true, TypePong: true,
}

// IsRegistered reports whether t is one of the closed TYPE set.
func IsRegistered(t Type) bool { return registered[t] }

const frameMarker = 0x00

// EncodeText returns s UTF-8 encoded with no framing — used for raw
// narrative output lines.
func EncodeText(s string) []byte {
	return []byte(s)
}

// EncodeFrame builds `\x00[TYPE]<json>\n`. payload must be JSON-serializable.
// Types outside the registered set are rejected with a protocol_error.
func EncodeFrame(t Type, payload any) ([]byte, error) {
	if !IsRegistered(t) {
		return nil, errs.New(errs.KindProtocol, fmt.Sprintf("unregistered frame type %q", t), nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "payload not JSON-serializable", err)
	}
	buf := make([]byte, 0, len(body)+len(t)+4)
	buf = append(buf, frameMarker, '[')
	buf = append(buf, t...)
	buf = append(buf, ']')
	buf = append(buf, body...)
	buf = append(buf, '\n')
	return buf, nil
}

// Kind classifies a decoded inbound message.
type Kind int

const (
	KindText Kind = iota
	KindFrame
	KindPing
	KindPong
	KindClose
)

// Inbound is the result of decoding one client message.
type Inbound struct {
	Kind Kind
	Type Type   // only set when Kind == KindFrame
	Body []byte // raw JSON body when Kind == KindFrame; raw text otherwise
}

// DecodeInbound parses one client-sent message. Frames use the same
// `\x00[TYPE]<json>` envelope as outbound frames (no trailing newline is
// required — a single WebSocket text message is one logical unit).
// An unknown TYPE yields a protocol_error; callers should log one warning
// and drop the frame while keeping the connection open, per spec §4.A.
func DecodeInbound(data []byte) (Inbound, error) {
	if len(data) == 0 {
		return Inbound{Kind: KindText, Body: data}, nil
	}
	if data[0] != frameMarker {
		return Inbound{Kind: KindText, Body: bytes.TrimRight(data, "\n")}, nil
	}
	rest := data[1:]
	if len(rest) == 0 || rest[0] != '[' {
		return Inbound{}, errs.New(errs.KindProtocol, "malformed frame: missing type bracket", nil)
	}
	end := bytes.IndexByte(rest, ']')
	if end < 0 {
		return Inbound{}, errs.New(errs.KindProtocol, "malformed frame: unterminated type bracket", nil)
	}
	t := Type(rest[1:end])
	body := bytes.TrimRight(rest[end+1:], "\n")

	if !IsRegistered(t) {
		return Inbound{}, errs.New(errs.KindProtocol, fmt.Sprintf("unknown inbound frame type %q", t), nil)
	}

	switch t {
	case TypePong:
		return Inbound{Kind: KindPong, Type: t}, nil
	}
	return Inbound{Kind: KindFrame, Type: t, Body: body}, nil
}

// AuthRequest is the payload of an inbound AUTH frame (spec §6): either a
// name/password pair for a fresh login, or a bare session token to resume
// a prior connection.
type AuthRequest struct {
	Name         string `json:"name,omitempty"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// AuthResponse is the outbound AUTH frame reply.
type AuthResponse struct {
	Status string `json:"status"` // "ok" or "auth_error"
	Reason string `json:"reason,omitempty"`
}

// SessionResume is the payload of an inbound SESSION frame: a bare token
// presented to reattach to the player bound to it.
type SessionResume struct {
	Token string `json:"token"`
}

// SessionIssued is the outbound SESSION frame carrying the fresh
// resume token issued after a successful authenticate or resume.
type SessionIssued struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// TimeFrame is the outbound TIME frame sent as part of the heartbeat
// keepalive, for intermediaries that drop WebSocket ping/pong frames but
// pass data frames through untouched.
type TimeFrame struct {
	EpochMS int64  `json:"epoch_ms"`
	Version string `json:"version"`
}

// NormalizeText converts legacy Big5 (MS950) client text to UTF-8. Input
// that is already valid UTF-8, including pure ASCII, passes through
// untouched; the ASCII check mirrors the teacher's ms950ToUTF8 fast path,
// generalized into a reusable inbound hook since the driver core must not
// assume every client speaks UTF-8 already.
func NormalizeText(raw []byte) string {
	allASCII := true
	for _, b := range raw {
		if b >= 0x80 {
			allASCII = false
			break
		}
	}
	if allASCII || utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := traditionalchinese.Big5.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
