// Package protocol implements the EG-series engraver wire protocol: fixed
// twelve-byte command frames going to the controller and variable-length
// status frames coming back. The two directions are asymmetric; status
// frames are decode-only.
package protocol

import "fmt"

// Kind identifies a logical engraver command.
type Kind byte

const (
	KindMove     Kind = 0x01
	KindCut      Kind = 0x02
	KindSetPower Kind = 0x03
	KindSetSpeed Kind = 0x04
	KindHome     Kind = 0x05
	KindPing     Kind = 0x06
	KindStart    Kind = 0x07
	KindStop     Kind = 0x08
)

// String returns the lowercase mnemonic used in logs and the interactive
// console.
func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindCut:
		return "cut"
	case KindSetPower:
		return "power"
	case KindSetSpeed:
		return "speed"
	case KindHome:
		return "home"
	case KindPing:
		return "ping"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Protocol limits. Coordinates travel as signed 24-bit step counts; power is
// per-mille of full laser output; speed is millimetres per minute.
const (
	MaxCoordinate = 1<<23 - 1
	MinCoordinate = -(1<<23 - 1)
	MaxPower      = 1000
	MinSpeed      = 1
	MaxSpeed      = 60000
)

// Command is one logical instruction to the engraver controller. Only the
// fields relevant to its Kind are meaningful: X/Y for Move and Cut, Power
// for SetPower, Speed for SetSpeed.
type Command struct {
	Kind  Kind
	X, Y  int32  // step counts
	Power uint16 // per-mille, 0..1000
	Speed uint32 // mm/min
}

// Move positions the head at (x, y) with the beam off.
func Move(x, y int32) Command { return Command{Kind: KindMove, X: x, Y: y} }

// Cut moves the head to (x, y) with the beam firing.
func Cut(x, y int32) Command { return Command{Kind: KindCut, X: x, Y: y} }

// SetPower sets laser output in per-mille of maximum.
func SetPower(perMille uint16) Command { return Command{Kind: KindSetPower, Power: perMille} }

// SetSpeed sets head travel speed in mm/min.
func SetSpeed(mmPerMin uint32) Command { return Command{Kind: KindSetSpeed, Speed: mmPerMin} }

// Home returns the head to the machine origin.
func Home() Command { return Command{Kind: KindHome} }

// Ping requests a status report; used as the connection handshake.
func Ping() Command { return Command{Kind: KindPing} }

// Start begins execution of the buffered job.
func Start() Command { return Command{Kind: KindStart} }

// Stop halts execution and disarms the laser.
func Stop() Command { return Command{Kind: KindStop} }

// Text returns the human-readable descriptor for the command, as published
// on the status bus and retained in statistics.
func (c Command) Text() string {
	switch c.Kind {
	case KindMove, KindCut:
		return fmt.Sprintf("%s x=%d y=%d", c.Kind, c.X, c.Y)
	case KindSetPower:
		return fmt.Sprintf("%s %d", c.Kind, c.Power)
	case KindSetSpeed:
		return fmt.Sprintf("%s %d", c.Kind, c.Speed)
	default:
		return c.Kind.String()
	}
}
