package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/etchlab/engravelink/internal/protocol"
	"github.com/etchlab/engravelink/internal/supervisor"
)

// console handles interactive mode, turning stdin lines into engraver
// commands or supervisor actions.
type console struct {
	sup *supervisor.Supervisor
}

func newConsole(sup *supervisor.Supervisor) *console {
	return &console{sup: sup}
}

// run starts the interactive command loop. It returns when the context is
// cancelled or the operator quits.
func (c *console) run(ctx context.Context, cancel context.CancelFunc) {
	reader := bufio.NewReader(os.Stdin)

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("\nengrave> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch strings.ToLower(strings.Fields(input)[0]) {
		case "help", "?":
			c.printHelp()

		case "connect":
			if err := c.sup.Connect(); err != nil {
				fmt.Printf("connect: %v\n", err)
			}

		case "disconnect":
			if err := c.sup.Disconnect(); err != nil {
				fmt.Printf("disconnect: %v\n", err)
			}

		case "state":
			fmt.Println(c.sup.State())

		case "stats":
			snap := c.sup.Statistics()
			fmt.Printf("sent=%d rejected=%d buffered=%dB peak=%dB last=%q\n",
				snap.SentCount, snap.RejectedCount,
				snap.CurrentBufferBytes, snap.PeakBufferBytes,
				snap.LastPacketText)

		case "reset-stats":
			c.sup.ResetStatistics()
			fmt.Println("statistics reset")

		case "quit", "exit", "q":
			fmt.Println("Exiting...")
			cancel()
			return

		default:
			// everything else is an engraver command
			cmd, err := protocol.ParseCommand(input)
			if err != nil {
				fmt.Printf("%v (type 'help' for commands)\n", err)
				continue
			}
			if err := c.sup.Send(cmd); err != nil {
				fmt.Printf("send: %v\n", err)
				continue
			}
			fmt.Printf("queued %s\n", cmd.Text())
		}
	}
}

func (c *console) printHelp() {
	fmt.Println(`
Engraver Console Commands:
  Link control:
    connect                - Open the engraver link
    disconnect             - Close the engraver link
    state                  - Show the connection state
    stats                  - Show send/reject/buffer statistics
    reset-stats            - Zero the statistics counters

  Engraver commands:
    move <x> <y>           - Travel move to (x, y)
    cut <x> <y>            - Cutting move to (x, y)
    power <per-mille>      - Set laser power (0-1000)
    speed <mm-per-min>     - Set head speed (1-60000)
    home                   - Return to machine origin
    ping                   - Liveness probe
    start / stop           - Begin or halt the job

  quit                     - Exit`)
}
