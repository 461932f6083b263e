package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/transport/tcp"
	"github.com/wricardo/spacerelay/transport/websocket"
)

// stream is a connection to a relay over either transport.
type stream interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// connect dials the relay and sends the handshake. A ws:// or wss:// address
// uses the WebSocket transport, anything else is a TCP host:port.
func connect(ctx context.Context, addr, identity, spaceID string) (stream, error) {
	space, err := protocol.ParseSpaceID(spaceID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(identity) == "" {
		return nil, errors.New("an id is required")
	}

	var s stream
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		s, err = websocket.Dial(ctx, addr)
	} else {
		s, err = tcp.Dial(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	if err := send(s, handshake{identity, space}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// handshake is the first message a client sends.
type handshake struct {
	identity string
	space    uuid.UUID
}

func send(s stream, msg any) error {
	var data []byte
	var err error
	switch m := msg.(type) {
	case handshake:
		data, err = protocol.EncodeHandshake(m.identity, m.space)
	case protocol.ClientMessage:
		data, err = protocol.EncodeClient(m)
	default:
		err = fmt.Errorf("unsupported message %T", msg)
	}
	if err != nil {
		return err
	}
	return s.WriteMessage(data)
}

// parseInput turns one line typed in join mode into a client message.
// quit is true for /quit.
func parseInput(line string) (msg protocol.ClientMessage, quit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, false, nil
	case line == "/quit":
		return nil, true, nil
	case strings.HasPrefix(line, "/move"):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, false, errors.New("usage: /move X Y")
		}
		x, y, err := parseCoords(fields[1], fields[2])
		if err != nil {
			return nil, false, err
		}
		return protocol.Move{X: x, Y: y}, false, nil
	case strings.HasPrefix(line, "/"):
		return nil, false, fmt.Errorf("unknown command %q (try /move X Y or /quit)", strings.Fields(line)[0])
	default:
		return protocol.Chat{Message: line}, false, nil
	}
}

func parseCoords(xs, ys string) (float32, float32, error) {
	x, err := strconv.ParseFloat(xs, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.ParseFloat(ys, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y %q", ys)
	}
	return float32(x), float32(y), nil
}

// formatEvent renders a server event for the terminal.
func formatEvent(ev protocol.ServerEvent) string {
	switch e := ev.(type) {
	case protocol.SpawnEvent:
		if e.ModelURL != "" {
			return fmt.Sprintf("* %s joined (%s)", e.ID, e.ModelURL)
		}
		return fmt.Sprintf("* %s joined", e.ID)
	case protocol.MoveEvent:
		return fmt.Sprintf("* %s moved to (%g, %g)", e.ID, e.X, e.Y)
	case protocol.ChatEvent:
		if e.ID == protocol.ServerIdentity {
			return fmt.Sprintf("[server] %s", e.Message)
		}
		return fmt.Sprintf("<%s> %s", e.ID, e.Message)
	case protocol.DespawnEvent:
		return fmt.Sprintf("* %s left", e.ID)
	default:
		return fmt.Sprintf("? %v", ev)
	}
}

// interact prints events from s to out and sends lines read from in until
// in is exhausted, /quit is typed, the relay closes the connection or ctx is
// cancelled.
func interact(ctx context.Context, s stream, in io.Reader, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	readDone := make(chan error, 1)
	go func() {
		for {
			data, err := s.ReadMessage()
			if err != nil {
				readDone <- err
				return
			}
			ev, err := protocol.DecodeEvent(data)
			if err != nil {
				fmt.Fprintf(out, "! undecodable event: %s\n", data)
				continue
			}
			fmt.Fprintln(out, formatEvent(ev))
		}
	}()

	lines := make(chan string)
	stopLines := make(chan struct{})
	defer close(stopLines)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stopLines:
				return
			}
		}
	}()

	for {
		select {
		case err := <-readDone:
			s.Close()
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				fmt.Fprintln(out, "* connection closed")
				return nil
			}
			return fmt.Errorf("read: %w", err)

		case line, ok := <-lines:
			if !ok {
				return s.Close()
			}
			msg, quit, err := parseInput(line)
			switch {
			case err != nil:
				fmt.Fprintf(out, "! %v\n", err)
			case quit:
				return s.Close()
			case msg != nil:
				if err := send(s, msg); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	}
}
