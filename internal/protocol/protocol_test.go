package protocol

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

var testID = uuid.MustParse("a1b2c3d4-e5f6-4789-8abc-def012345678")

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{
			name: "authentication",
			packet: &Packet{
				Type:     PacketTypeAuthentication,
				ClientID: testID,
				Auth:     &AuthPayload{Username: "steve"},
			},
		},
		{
			name: "authentication empty username",
			packet: &Packet{
				Type:     PacketTypeAuthentication,
				ClientID: testID,
				Auth:     &AuthPayload{Username: ""},
			},
		},
		{
			name: "audio",
			packet: &Packet{
				Type:     PacketTypeAudio,
				ClientID: testID,
				Audio:    &AudioPayload{Sequence: 12345, Data: []byte{0x01, 0x02, 0x03}},
			},
		},
		{
			name: "audio empty frame",
			packet: &Packet{
				Type:     PacketTypeAudio,
				ClientID: testID,
				Audio:    &AudioPayload{Sequence: 65535},
			},
		},
		{
			name: "test audio",
			packet: &Packet{
				Type:     PacketTypeTestAudio,
				ClientID: testID,
				Audio:    &AudioPayload{Sequence: 7, Data: []byte{0xff}},
			},
		},
		{
			name: "auth ack",
			packet: &Packet{
				Type:     PacketTypeAuthAck,
				ClientID: testID,
				AuthAck:  &AuthAckPayload{Status: AuthStatusOK},
			},
		},
		{
			name: "disconnect",
			packet: &Packet{
				Type:     PacketTypeDisconnect,
				ClientID: testID,
			},
		},
		{
			name: "server shutdown",
			packet: &Packet{
				Type:     PacketTypeServerShutdown,
				ClientID: testID,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.packet)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(tt.packet, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeShortPacket(t *testing.T) {
	for length := 0; length < HeaderSize; length++ {
		data := make([]byte, length)
		if length > 0 {
			data[0] = PacketTypeAudio
		}
		_, err := Decode(data)
		if err == nil {
			t.Fatalf("Decode accepted %d-byte packet", length)
		}
		if !strings.Contains(err.Error(), "malformed packet") {
			t.Errorf("expected malformed packet error for length %d, got %v", length, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := make([]byte, HeaderSize)
	data[0] = 0x42
	_, err := Decode(data)
	if err == nil {
		t.Fatal("Decode accepted unknown packet type")
	}
	if !strings.Contains(err.Error(), "unknown packet type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeAuthenticationErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "missing length prefix",
			payload: []byte{0x00, 0x01},
		},
		{
			name: "length prefix exceeds payload",
			payload: func() []byte {
				p := make([]byte, UsernameLenSize+2)
				binary.BigEndian.PutUint32(p, 10)
				return p
			}(),
		},
		{
			name: "hostile length prefix",
			payload: func() []byte {
				p := make([]byte, UsernameLenSize)
				binary.BigEndian.PutUint32(p, 0xFFFFFFFF)
				return p
			}(),
		},
		{
			name: "invalid utf-8 username",
			payload: func() []byte {
				p := make([]byte, UsernameLenSize+2)
				binary.BigEndian.PutUint32(p, 2)
				p[UsernameLenSize] = 0xff
				p[UsernameLenSize+1] = 0xfe
				return p
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, HeaderSize+len(tt.payload))
			data[0] = PacketTypeAuthentication
			copy(data[1:], testID[:])
			copy(data[HeaderSize:], tt.payload)

			if _, err := Decode(data); err == nil {
				t.Error("Decode accepted malformed authentication payload")
			}
		})
	}
}

func TestDecodeAudioMissingSequence(t *testing.T) {
	data := make([]byte, HeaderSize+1)
	data[0] = PacketTypeAudio
	copy(data[1:], testID[:])

	if _, err := Decode(data); err == nil {
		t.Error("Decode accepted audio payload without a full sequence number")
	}
}

func TestClientIDWireLayout(t *testing.T) {
	// The identifier travels as two consecutive big-endian 64-bit halves,
	// which is byte-for-byte the UUID's own encoding.
	data, err := Encode(&Packet{Type: PacketTypeDisconnect, ClientID: testID})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	hi := binary.BigEndian.Uint64(data[1:9])
	lo := binary.BigEndian.Uint64(data[9:17])
	if hi != binary.BigEndian.Uint64(testID[0:8]) || lo != binary.BigEndian.Uint64(testID[8:16]) {
		t.Errorf("client id halves mismatch: hi=%x lo=%x", hi, lo)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		tag  uint8
		want string
	}{
		{PacketTypeAuthentication, "Authentication"},
		{PacketTypeAudio, "Audio"},
		{PacketTypeAuthAck, "AuthAck"},
		{PacketTypeDisconnect, "Disconnect"},
		{PacketTypeTestAudio, "TestAudio"},
		{PacketTypeServerShutdown, "ServerShutdown"},
		{0x77, "Unknown(0x77)"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.tag); got != tt.want {
			t.Errorf("TypeName(0x%02x) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}
