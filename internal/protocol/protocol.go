package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Packet type tags carried in byte 0 of every datagram.
const (
	PacketTypeAuthentication = 0x01
	PacketTypeAudio          = 0x02
	PacketTypeAuthAck        = 0x03
	PacketTypeDisconnect     = 0x04
	PacketTypeTestAudio      = 0x05
	PacketTypeServerShutdown = 0x09

	// HeaderSize is the fixed prefix of every packet:
	// [Type:1][ClientID:16] where the client identifier is a 128-bit
	// value transmitted as two consecutive big-endian 64-bit halves.
	HeaderSize = 17

	// UsernameLenSize is the length prefix of the authentication payload.
	UsernameLenSize = 4

	// SequenceSize is the audio sequence number width.
	SequenceSize = 2

	// AuthAckPayloadSize is the single status byte.
	AuthAckPayloadSize = 1

	// MaxUsernameLen bounds the authentication username so a hostile
	// length prefix cannot force a large allocation.
	MaxUsernameLen = 512
)

// AuthAck status codes.
const (
	AuthStatusOK       = 0x00
	AuthStatusRejected = 0x01
)

// ErrMalformedPacket is returned for any datagram that cannot be decoded:
// too short, unknown type tag, or a payload that contradicts its own framing.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one fully decoded relay datagram. Exactly one of the payload
// pointers is set, matching Type; empty-payload types set none.
type Packet struct {
	Type     uint8
	ClientID uuid.UUID

	Auth    *AuthPayload    // PacketTypeAuthentication
	Audio   *AudioPayload   // PacketTypeAudio, PacketTypeTestAudio
	AuthAck *AuthAckPayload // PacketTypeAuthAck
}

// AuthPayload carries the client's display name:
// [UsernameLen:4][Username:N] with N in UTF-8 bytes.
type AuthPayload struct {
	Username string
}

// AudioPayload carries one opus frame:
// [Sequence:2][OpusData:N]. The sequence is per-sender and wraps at 2^16.
type AudioPayload struct {
	Sequence uint16
	Data     []byte
}

// AuthAckPayload carries the server's answer to an authentication attempt.
type AuthAckPayload struct {
	Status uint8
}

// Decode parses a raw datagram into a Packet. It is pure, performs no I/O,
// and fails with ErrMalformedPacket for anything it does not recognize.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: packet too short: expected at least %d bytes, got %d",
			ErrMalformedPacket, HeaderSize, len(data))
	}

	p := &Packet{
		Type:     data[0],
		ClientID: decodeClientID(data[1:HeaderSize]),
	}
	payload := data[HeaderSize:]

	switch p.Type {
	case PacketTypeAuthentication:
		auth, err := decodeAuthPayload(payload)
		if err != nil {
			return nil, err
		}
		p.Auth = auth

	case PacketTypeAudio, PacketTypeTestAudio:
		audio, err := decodeAudioPayload(payload)
		if err != nil {
			return nil, err
		}
		p.Audio = audio

	case PacketTypeAuthAck:
		if len(payload) < AuthAckPayloadSize {
			return nil, fmt.Errorf("%w: auth ack payload missing status byte", ErrMalformedPacket)
		}
		p.AuthAck = &AuthAckPayload{Status: payload[0]}

	case PacketTypeDisconnect, PacketTypeServerShutdown:
		// Empty payload; trailing bytes are ignored.

	default:
		return nil, fmt.Errorf("%w: unknown packet type 0x%02x", ErrMalformedPacket, p.Type)
	}

	return p, nil
}

// Encode serializes a Packet into wire bytes.
func Encode(p *Packet) ([]byte, error) {
	switch p.Type {
	case PacketTypeAuthentication:
		if p.Auth == nil {
			return nil, fmt.Errorf("authentication packet without auth payload")
		}
		name := []byte(p.Auth.Username)
		if len(name) > MaxUsernameLen {
			return nil, fmt.Errorf("username too long: %d bytes (max %d)", len(name), MaxUsernameLen)
		}
		buf := make([]byte, HeaderSize+UsernameLenSize+len(name))
		encodeHeader(buf, p)
		binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(len(name)))
		copy(buf[HeaderSize+UsernameLenSize:], name)
		return buf, nil

	case PacketTypeAudio, PacketTypeTestAudio:
		if p.Audio == nil {
			return nil, fmt.Errorf("audio packet without audio payload")
		}
		buf := make([]byte, HeaderSize+SequenceSize+len(p.Audio.Data))
		encodeHeader(buf, p)
		binary.BigEndian.PutUint16(buf[HeaderSize:], p.Audio.Sequence)
		copy(buf[HeaderSize+SequenceSize:], p.Audio.Data)
		return buf, nil

	case PacketTypeAuthAck:
		if p.AuthAck == nil {
			return nil, fmt.Errorf("auth ack packet without ack payload")
		}
		buf := make([]byte, HeaderSize+AuthAckPayloadSize)
		encodeHeader(buf, p)
		buf[HeaderSize] = p.AuthAck.Status
		return buf, nil

	case PacketTypeDisconnect, PacketTypeServerShutdown:
		buf := make([]byte, HeaderSize)
		encodeHeader(buf, p)
		return buf, nil

	default:
		return nil, fmt.Errorf("unknown packet type 0x%02x", p.Type)
	}
}

func encodeHeader(buf []byte, p *Packet) {
	buf[0] = p.Type
	binary.BigEndian.PutUint64(buf[1:9], binary.BigEndian.Uint64(p.ClientID[0:8]))
	binary.BigEndian.PutUint64(buf[9:17], binary.BigEndian.Uint64(p.ClientID[8:16]))
}

func decodeClientID(b []byte) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[0:8], binary.BigEndian.Uint64(b[0:8]))
	binary.BigEndian.PutUint64(id[8:16], binary.BigEndian.Uint64(b[8:16]))
	return id
}

func decodeAuthPayload(payload []byte) (*AuthPayload, error) {
	if len(payload) < UsernameLenSize {
		return nil, fmt.Errorf("%w: authentication payload missing length prefix", ErrMalformedPacket)
	}
	nameLen := binary.BigEndian.Uint32(payload[0:UsernameLenSize])
	if nameLen > MaxUsernameLen {
		return nil, fmt.Errorf("%w: username length %d exceeds maximum %d",
			ErrMalformedPacket, nameLen, MaxUsernameLen)
	}
	if uint32(len(payload)-UsernameLenSize) != nameLen {
		return nil, fmt.Errorf("%w: username length mismatch: prefix says %d bytes, got %d",
			ErrMalformedPacket, nameLen, len(payload)-UsernameLenSize)
	}
	name := payload[UsernameLenSize:]
	if !utf8.Valid(name) {
		return nil, fmt.Errorf("%w: username is not valid UTF-8", ErrMalformedPacket)
	}
	return &AuthPayload{Username: string(name)}, nil
}

func decodeAudioPayload(payload []byte) (*AudioPayload, error) {
	if len(payload) < SequenceSize {
		return nil, fmt.Errorf("%w: audio payload missing sequence number", ErrMalformedPacket)
	}
	audio := &AudioPayload{
		Sequence: binary.BigEndian.Uint16(payload[0:SequenceSize]),
	}
	if len(payload) > SequenceSize {
		audio.Data = make([]byte, len(payload)-SequenceSize)
		copy(audio.Data, payload[SequenceSize:])
	}
	return audio, nil
}

// TypeName returns a human-readable name for a packet type tag.
func TypeName(t uint8) string {
	switch t {
	case PacketTypeAuthentication:
		return "Authentication"
	case PacketTypeAudio:
		return "Audio"
	case PacketTypeAuthAck:
		return "AuthAck"
	case PacketTypeDisconnect:
		return "Disconnect"
	case PacketTypeTestAudio:
		return "TestAudio"
	case PacketTypeServerShutdown:
		return "ServerShutdown"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", t)
	}
}

// String returns a human-readable representation of the packet.
func (p *Packet) String() string {
	switch {
	case p.Auth != nil:
		return fmt.Sprintf("Packet{Type:%s, ClientID:%s, Username:%q}",
			TypeName(p.Type), p.ClientID, p.Auth.Username)
	case p.Audio != nil:
		return fmt.Sprintf("Packet{Type:%s, ClientID:%s, Sequence:%d, DataLen:%d}",
			TypeName(p.Type), p.ClientID, p.Audio.Sequence, len(p.Audio.Data))
	case p.AuthAck != nil:
		return fmt.Sprintf("Packet{Type:%s, ClientID:%s, Status:%d}",
			TypeName(p.Type), p.ClientID, p.AuthAck.Status)
	default:
		return fmt.Sprintf("Packet{Type:%s, ClientID:%s}", TypeName(p.Type), p.ClientID)
	}
}
