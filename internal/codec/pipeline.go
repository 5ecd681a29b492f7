package codec

import (
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// Fixed codec parameters. Every session uses the same configuration, which
// lets the transport relay compressed frames verbatim instead of
// transcoding per recipient.
const (
	SampleRate = 48000
	Channels   = 1

	// FrameDuration is the fixed cadence of the voice stream.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the PCM sample count of one frame (960 at 48 kHz mono).
	FrameSamples = SampleRate / 1000 * 20

	// MaxExpectedLoss caps the encoder's loss bias.
	MaxExpectedLoss = 0.20

	// MaxRecoveryFrames bounds how many missing frames a single gap will
	// synthesize. A gap beyond this resynchronizes on the incoming frame
	// instead of flooding the listener with 200 ms+ of concealment.
	MaxRecoveryFrames = 10

	// maxFrameBytes is the largest opus frame the encoder can emit.
	maxFrameBytes = 1275
)

// FrameKind tags how a decoded frame was produced.
type FrameKind int

const (
	// FrameDecoded is a frame decoded normally from received bytes.
	FrameDecoded FrameKind = iota
	// FrameConcealed was synthesized from decoder state for a frame that
	// never arrived (packet-loss concealment).
	FrameConcealed
	// FrameRecovered was reconstructed from the in-band forward error
	// correction data of the packet that followed the loss.
	FrameRecovered
	// FrameSilence substitutes for an internal decoder failure so
	// downstream mixing never sees a malformed buffer.
	FrameSilence
)

func (k FrameKind) String() string {
	switch k {
	case FrameDecoded:
		return "decoded"
	case FrameConcealed:
		return "concealed"
	case FrameRecovered:
		return "fec-recovered"
	case FrameSilence:
		return "silence"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Frame is one 20 ms block of PCM audio produced by the decode pipeline.
type Frame struct {
	Sequence uint16
	Kind     FrameKind
	PCM      []int16
}

// PCMEncoder is the compressed-frame encoder the pipeline wraps.
// *opus.Encoder satisfies it.
type PCMEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// PCMDecoder is the decoder with loss-recovery entry points the pipeline
// wraps. *opus.Decoder satisfies it.
type PCMDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
	DecodePLC(pcm []int16) error
	DecodeFEC(data []byte, pcm []int16) error
}

// ClampExpectedLoss clamps an expected-loss fraction into [0, MaxExpectedLoss].
// Out-of-range values are clamped, never rejected.
func ClampExpectedLoss(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxExpectedLoss {
		return MaxExpectedLoss
	}
	return v
}

// Encoder compresses PCM frames, biased with in-band FEC redundancy for the
// configured expected loss rate.
type Encoder struct {
	enc PCMEncoder
	buf []byte
}

// NewEncoder creates an opus-backed encoder for the fixed codec parameters.
func NewEncoder(expectedLoss float64) (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("enable in-band FEC: %w", err)
	}
	lossPerc := int(ClampExpectedLoss(expectedLoss) * 100)
	if err := enc.SetPacketLossPerc(lossPerc); err != nil {
		return nil, fmt.Errorf("set expected packet loss: %w", err)
	}
	return NewEncoderWith(enc), nil
}

// NewEncoderWith wraps an already configured PCMEncoder.
func NewEncoderWith(enc PCMEncoder) *Encoder {
	return &Encoder{enc: enc, buf: make([]byte, maxFrameBytes)}
}

// Encode compresses one PCM frame. Empty input yields an empty frame, not
// an error.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// DecoderStats counts decode outcomes for one sender's stream.
type DecoderStats struct {
	Decoded   uint64
	Concealed uint64
	Recovered uint64
	Silence   uint64
	Stale     uint64
	Lost      uint64
}

// Decoder decompresses one sender's frame stream, tracking the last decoded
// sequence number to detect loss. Decoder state holds the PLC/FEC history,
// so an instance is never shared across senders. Callers must feed it from
// a single goroutine (per-sender worker affinity in the transport).
type Decoder struct {
	dec     PCMDecoder
	lastSeq uint16
	primed  bool
	stats   DecoderStats
}

// NewDecoder creates an opus-backed decoder for the fixed codec parameters.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return NewDecoderWith(dec), nil
}

// NewDecoderWith wraps an already constructed PCMDecoder.
func NewDecoderWith(dec PCMDecoder) *Decoder {
	return &Decoder{dec: dec}
}

// Decode processes one received frame and returns the audio frames it
// yields, in playback order. A gap in the sequence emits one recovery frame
// per missing sequence (FEC for the frame adjacent to the received packet,
// concealment for the rest) before the received frame itself. Duplicate or
// stale sequence numbers yield nothing. Decode never fails: internal codec
// errors are absorbed as silence frames.
func (d *Decoder) Decode(data []byte, seq uint16) []Frame {
	if !d.primed {
		d.primed = true
		d.lastSeq = seq
		return []Frame{d.decodeReceived(data, seq)}
	}

	// Wraparound-safe delta: 65535 -> 0 is in order, deltas in the upper
	// half of the sequence space mean duplicate or stale.
	delta := seq - d.lastSeq
	switch {
	case delta == 0 || delta >= 1<<15:
		d.stats.Stale++
		return nil
	case delta == 1:
		d.lastSeq = seq
		return []Frame{d.decodeReceived(data, seq)}
	}

	missing := int(delta) - 1
	frames := make([]Frame, 0, min(missing, MaxRecoveryFrames)+1)
	if missing <= MaxRecoveryFrames {
		for i := 1; i <= missing; i++ {
			lostSeq := d.lastSeq + uint16(i)
			if i == missing {
				// Only the frame directly preceding the received packet
				// can be carried by that packet's in-band FEC data.
				frames = append(frames, d.recoverFEC(data, lostSeq))
			} else {
				frames = append(frames, d.conceal(lostSeq))
			}
		}
	} else {
		d.stats.Lost += uint64(missing)
	}
	d.lastSeq = seq
	return append(frames, d.decodeReceived(data, seq))
}

// Stats returns a snapshot of decode outcome counters.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// LastSequence reports the most recent accepted sequence number.
func (d *Decoder) LastSequence() (uint16, bool) {
	return d.lastSeq, d.primed
}

func (d *Decoder) decodeReceived(data []byte, seq uint16) Frame {
	pcm := make([]int16, FrameSamples)
	n, err := d.dec.Decode(data, pcm)
	if err != nil {
		d.stats.Silence++
		return d.silenceFrame(seq)
	}
	d.stats.Decoded++
	return Frame{Sequence: seq, Kind: FrameDecoded, PCM: pcm[:n*Channels]}
}

func (d *Decoder) conceal(seq uint16) Frame {
	pcm := make([]int16, FrameSamples)
	if err := d.dec.DecodePLC(pcm); err != nil {
		d.stats.Silence++
		return d.silenceFrame(seq)
	}
	d.stats.Concealed++
	return Frame{Sequence: seq, Kind: FrameConcealed, PCM: pcm}
}

func (d *Decoder) recoverFEC(next []byte, seq uint16) Frame {
	pcm := make([]int16, FrameSamples)
	if err := d.dec.DecodeFEC(next, pcm); err != nil {
		// The following packet carried no usable FEC data; degrade to
		// concealment rather than dropping the slot.
		return d.conceal(seq)
	}
	d.stats.Recovered++
	return Frame{Sequence: seq, Kind: FrameRecovered, PCM: pcm}
}

func (d *Decoder) silenceFrame(seq uint16) Frame {
	return Frame{Sequence: seq, Kind: FrameSilence, PCM: make([]int16, FrameSamples)}
}

// Pipeline bundles the per-session encoder/decoder pair.
type Pipeline struct {
	Encoder *Encoder
	Decoder *Decoder
}

// NewPipeline creates an opus-backed encoder/decoder pair for one session.
func NewPipeline(expectedLoss float64) (*Pipeline, error) {
	enc, err := NewEncoder(expectedLoss)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Pipeline{Encoder: enc, Decoder: dec}, nil
}
