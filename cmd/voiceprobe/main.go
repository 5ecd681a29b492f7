// voiceprobe is a diagnostic client for the relay: it authenticates,
// sends a burst of TestAudio frames, and reports how many echoes come back
// and how fast. Useful for checking a deployment end to end without a game
// client.
package main

import (
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Zokiio/ovc-sub005/internal/codec"
	"github.com/Zokiio/ovc-sub005/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:24454", "Relay UDP address")
	name := flag.String("name", "voiceprobe", "Username to authenticate with")
	frames := flag.Int("frames", 50, "Number of test audio frames to send")
	interval := flag.Duration("interval", 20*time.Millisecond, "Frame send interval")
	flag.Parse()

	if err := run(*addr, *name, *frames, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, name string, frames int, interval time.Duration) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	clientID := uuid.New()
	fmt.Printf("probing %s as %s (%s)\n", addr, name, clientID)

	auth, err := protocol.Encode(&protocol.Packet{
		Type:     protocol.PacketTypeAuthentication,
		ClientID: clientID,
		Auth:     &protocol.AuthPayload{Username: name},
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(auth); err != nil {
		return fmt.Errorf("send authentication: %w", err)
	}

	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("waiting for auth ack: %w", err)
	}
	ack, err := protocol.Decode(buf[:n])
	if err != nil {
		return fmt.Errorf("decode auth ack: %w", err)
	}
	if ack.Type != protocol.PacketTypeAuthAck || ack.AuthAck.Status != protocol.AuthStatusOK {
		return fmt.Errorf("authentication rejected: %s", ack)
	}
	fmt.Println("authenticated")

	// A real opus payload so the relay's decode path runs normally instead
	// of substituting silence: a 440 Hz tone, one 20 ms frame per packet.
	enc, err := codec.NewEncoder(0)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	tone := make([]int16, codec.FrameSamples)
	for i := range tone {
		tone[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/codec.SampleRate))
	}

	echoed := 0
	var totalRTT time.Duration

	for i := 0; i < frames; i++ {
		payload, err := enc.Encode(tone)
		if err != nil {
			return fmt.Errorf("encode tone frame: %w", err)
		}
		pkt, err := protocol.Encode(&protocol.Packet{
			Type:     protocol.PacketTypeTestAudio,
			ClientID: clientID,
			Audio:    &protocol.AudioPayload{Sequence: uint16(i + 1), Data: payload},
		})
		if err != nil {
			return err
		}
		sent := time.Now()
		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("send test frame %d: %w", i+1, err)
		}

		conn.SetReadDeadline(time.Now().Add(interval))
		if n, err := conn.Read(buf); err == nil {
			if echo, err := protocol.Decode(buf[:n]); err == nil && echo.Type == protocol.PacketTypeTestAudio {
				echoed++
				totalRTT += time.Since(sent)
			}
		}
	}

	disc, err := protocol.Encode(&protocol.Packet{
		Type:     protocol.PacketTypeDisconnect,
		ClientID: clientID,
	})
	if err == nil {
		conn.Write(disc)
	}

	fmt.Printf("echoed %d/%d frames", echoed, frames)
	if echoed > 0 {
		fmt.Printf(", mean rtt %s", totalRTT/time.Duration(echoed))
	}
	fmt.Println()
	if echoed == 0 {
		return fmt.Errorf("no echoes received")
	}
	return nil
}
