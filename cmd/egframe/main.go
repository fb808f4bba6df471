// egframe decodes captured engraver wire bytes. It reads hex (optionally
// whitespace-separated) from the arguments or stdin and prints every command
// and status frame it finds.
//
// Usage:
//
//	egframe ab0101000a000000f6ffffff
//	cat capture.hex | egframe -status
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/etchlab/engravelink/internal/protocol"
)

var statusOnly = flag.Bool("status", false, "Treat the input as controller status frames only")

func main() {
	flag.Parse()

	var input string
	if flag.NArg() > 0 {
		input = strings.Join(flag.Args(), "")
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		var sb strings.Builder
		for scanner.Scan() {
			sb.WriteString(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		input = sb.String()
	}

	input = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == ',' {
			return -1
		}
		return r
	}, input)

	data, err := hex.DecodeString(input)
	if err != nil {
		log.Fatalf("invalid hex input: %v", err)
	}
	if len(data) == 0 {
		log.Fatal("no frame bytes supplied")
	}

	offset := 0
	for len(data) > 0 {
		n, err := decodeOne(offset, data)
		if err != nil {
			log.Fatalf("offset %d: %v", offset, err)
		}
		data = data[n:]
		offset += n
	}
}

// decodeOne prints the frame at the head of data and returns how many bytes
// it consumed.
func decodeOne(offset int, data []byte) (int, error) {
	if !*statusOnly && data[0] == protocol.CommandSync {
		if len(data) < protocol.CommandFrameSize {
			return 0, fmt.Errorf("truncated command frame: %d bytes", len(data))
		}
		cmd, seq, err := protocol.DecodeCommand(data[:protocol.CommandFrameSize])
		if err != nil {
			return 0, err
		}
		fmt.Printf("%6d  command seq=%d  %s\n", offset, seq, cmd.Text())
		return protocol.CommandFrameSize, nil
	}

	rec, consumed, err := protocol.DecodeStatus(data)
	if err != nil {
		return 0, err
	}
	fmt.Printf("%6d  status  %s\n", offset, rec.Text())
	return consumed, nil
}
