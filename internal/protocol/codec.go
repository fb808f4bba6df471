package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Frame layout constants for the command direction.
const (
	CommandSync      = 0xAB
	CommandFrameSize = 12 // sync + opcode + seq(2) + payload(8)

	commandPayloadOffset = 4
)

// EncodeError reports a command whose parameters cannot be represented in
// the wire format. It is fatal to that command only.
type EncodeError struct {
	Kind   Kind
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Kind, e.Reason)
}

// Packet is one encoded command frame ready for transmission. The byte
// sequence is immutable once created; callers must not modify Data.
type Packet struct {
	Seq  uint16
	Kind Kind
	Data []byte
	text string
}

// Size returns the on-wire size of the packet in bytes.
func (p Packet) Size() int { return len(p.Data) }

// Text returns the human-readable descriptor captured at encode time.
func (p Packet) Text() string { return p.text }

// Codec encodes commands into packets, stamping each with a monotonic
// sequence number. A Codec is safe for concurrent use.
type Codec struct {
	mu  sync.Mutex
	seq uint16
}

// NewCodec returns a Codec with the sequence counter at zero.
func NewCodec() *Codec { return &Codec{} }

// Encode validates the command against protocol limits and produces the
// fixed-size wire frame.
func (c *Codec) Encode(cmd Command) (Packet, error) {
	if err := validate(cmd); err != nil {
		return Packet{}, err
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	buf := make([]byte, CommandFrameSize)
	buf[0] = CommandSync
	buf[1] = byte(cmd.Kind)
	binary.LittleEndian.PutUint16(buf[2:4], seq)

	payload := buf[commandPayloadOffset:]
	switch cmd.Kind {
	case KindMove, KindCut:
		putInt24(payload[0:3], cmd.X)
		putInt24(payload[3:6], cmd.Y)
	case KindSetPower:
		binary.LittleEndian.PutUint16(payload[0:2], cmd.Power)
	case KindSetSpeed:
		binary.LittleEndian.PutUint32(payload[0:4], cmd.Speed)
	}

	return Packet{Seq: seq, Kind: cmd.Kind, Data: buf, text: cmd.Text()}, nil
}

func validate(cmd Command) error {
	switch cmd.Kind {
	case KindMove, KindCut:
		if cmd.X > MaxCoordinate || cmd.X < MinCoordinate {
			return &EncodeError{Kind: cmd.Kind, Reason: fmt.Sprintf("x coordinate %d outside ±%d", cmd.X, MaxCoordinate)}
		}
		if cmd.Y > MaxCoordinate || cmd.Y < MinCoordinate {
			return &EncodeError{Kind: cmd.Kind, Reason: fmt.Sprintf("y coordinate %d outside ±%d", cmd.Y, MaxCoordinate)}
		}
	case KindSetPower:
		if cmd.Power > MaxPower {
			return &EncodeError{Kind: cmd.Kind, Reason: fmt.Sprintf("power %d exceeds %d per-mille", cmd.Power, MaxPower)}
		}
	case KindSetSpeed:
		if cmd.Speed < MinSpeed || cmd.Speed > MaxSpeed {
			return &EncodeError{Kind: cmd.Kind, Reason: fmt.Sprintf("speed %d outside %d..%d mm/min", cmd.Speed, MinSpeed, MaxSpeed)}
		}
	case KindHome, KindPing, KindStart, KindStop:
		// no parameters
	default:
		return &EncodeError{Kind: cmd.Kind, Reason: "unknown command kind"}
	}
	return nil
}

// DecodeCommand parses a full command frame back into the command and its
// sequence number. The command direction of the protocol is symmetric:
// DecodeCommand(Encode(c)) reproduces c for any representable c.
func DecodeCommand(b []byte) (Command, uint16, error) {
	if len(b) != CommandFrameSize {
		return Command{}, 0, &DecodeError{Reason: fmt.Sprintf("command frame must be %d bytes, got %d", CommandFrameSize, len(b))}
	}
	if b[0] != CommandSync {
		return Command{}, 0, &DecodeError{Reason: fmt.Sprintf("bad sync byte 0x%02x", b[0])}
	}

	cmd := Command{Kind: Kind(b[1])}
	seq := binary.LittleEndian.Uint16(b[2:4])
	payload := b[commandPayloadOffset:]

	switch cmd.Kind {
	case KindMove, KindCut:
		cmd.X = getInt24(payload[0:3])
		cmd.Y = getInt24(payload[3:6])
	case KindSetPower:
		cmd.Power = binary.LittleEndian.Uint16(payload[0:2])
	case KindSetSpeed:
		cmd.Speed = binary.LittleEndian.Uint32(payload[0:4])
	case KindHome, KindPing, KindStart, KindStop:
	default:
		return Command{}, 0, &DecodeError{Reason: fmt.Sprintf("unknown opcode 0x%02x", b[1])}
	}
	return cmd, seq, nil
}

// putInt24 writes v as a signed 24-bit little-endian value.
func putInt24(b []byte, v int32) {
	u := uint32(v) & 0xFFFFFF
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
}

// getInt24 reads a signed 24-bit little-endian value, sign-extending to 32
// bits.
func getInt24(b []byte) int32 {
	u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	if u&0x800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}
