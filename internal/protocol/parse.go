package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCommand converts the console/debug text form of a command into a
// Command. The grammar mirrors Command.Text: "move X Y", "cut X Y",
// "power N", "speed N", "home", "ping", "start", "stop".
func ParseCommand(s string) (Command, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	argInt := func(i int) (int64, error) {
		if i >= len(fields) {
			return 0, fmt.Errorf("%s: missing argument %d", fields[0], i)
		}
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad argument %q", fields[0], fields[i])
		}
		return v, nil
	}

	wantArgs := func(n int) error {
		if len(fields) != n+1 {
			return fmt.Errorf("%s: expected %d argument(s), got %d", fields[0], n, len(fields)-1)
		}
		return nil
	}

	switch fields[0] {
	case "move", "cut":
		if err := wantArgs(2); err != nil {
			return Command{}, err
		}
		x, err := argInt(1)
		if err != nil {
			return Command{}, err
		}
		y, err := argInt(2)
		if err != nil {
			return Command{}, err
		}
		if x > MaxCoordinate || x < MinCoordinate || y > MaxCoordinate || y < MinCoordinate {
			return Command{}, fmt.Errorf("%s: coordinate outside ±%d steps", fields[0], MaxCoordinate)
		}
		if fields[0] == "move" {
			return Move(int32(x), int32(y)), nil
		}
		return Cut(int32(x), int32(y)), nil
	case "power":
		if err := wantArgs(1); err != nil {
			return Command{}, err
		}
		p, err := argInt(1)
		if err != nil {
			return Command{}, err
		}
		if p < 0 || p > 0xFFFF {
			return Command{}, fmt.Errorf("power: value %d out of range", p)
		}
		return SetPower(uint16(p)), nil
	case "speed":
		if err := wantArgs(1); err != nil {
			return Command{}, err
		}
		v, err := argInt(1)
		if err != nil {
			return Command{}, err
		}
		if v < 0 || v > 0xFFFFFFFF {
			return Command{}, fmt.Errorf("speed: value %d out of range", v)
		}
		return SetSpeed(uint32(v)), nil
	case "home":
		return Home(), wantArgs(0)
	case "ping":
		return Ping(), wantArgs(0)
	case "start":
		return Start(), wantArgs(0)
	case "stop":
		return Stop(), wantArgs(0)
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}
