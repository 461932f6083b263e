// Command relayctl is a command-line client for the space relay.
//
// It can join a space interactively, send a single chat or move, and
// validate a directory of space definitions before deploying it:
//
//	relayctl --id alice --space 2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc join
//	relayctl --id bot --space 2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc chat "hello"
//	relayctl --addr ws://localhost:8080/ws --id bot --space ... move 3 4
//	relayctl validate spaces
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/spacerelay/relay/config"
	"github.com/wricardo/spacerelay/relay/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "relayctl",
		Usage: "talk to a space relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "127.0.0.1:4000",
				Usage:   "relay address: host:port for TCP, or a ws:// URL",
				Sources: cli.EnvVars("RELAY_ADDR"),
			},
			&cli.StringFlag{
				Name:    "id",
				Usage:   "client identity sent in the handshake",
				Sources: cli.EnvVars("RELAY_ID"),
			},
			&cli.StringFlag{
				Name:    "space",
				Usage:   "space UUID to join",
				Sources: cli.EnvVars("RELAY_SPACE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "join",
				Usage:  "join a space; typed lines are chat, /move X Y moves, /quit leaves",
				Action: joinAction,
			},
			{
				Name:      "chat",
				Usage:     "send one chat message and leave",
				ArgsUsage: "MESSAGE...",
				Action:    chatAction,
			},
			{
				Name:      "move",
				Usage:     "send one move and leave",
				ArgsUsage: "X Y",
				Action:    moveAction,
			},
			{
				Name:      "validate",
				Usage:     "validate a directory of space definitions",
				ArgsUsage: "[DIR]",
				Action:    validateAction,
			},
		},
	}
}

func joinAction(ctx context.Context, cmd *cli.Command) error {
	s, err := connect(ctx, cmd.String("addr"), cmd.String("id"), cmd.String("space"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "* joined %s as %s\n", cmd.String("space"), cmd.String("id"))
	return interact(ctx, s, cmd.Root().Reader, cmd.Root().Writer)
}

func chatAction(ctx context.Context, cmd *cli.Command) error {
	message := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(message) == "" {
		return errors.New("usage: chat MESSAGE")
	}
	return sendOnce(ctx, cmd, protocol.Chat{Message: message})
}

func moveAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: move X Y")
	}
	x, y, err := parseCoords(cmd.Args().Get(0), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	return sendOnce(ctx, cmd, protocol.Move{X: x, Y: y})
}

func sendOnce(ctx context.Context, cmd *cli.Command, msg protocol.ClientMessage) error {
	s, err := connect(ctx, cmd.String("addr"), cmd.String("id"), cmd.String("space"))
	if err != nil {
		return err
	}
	defer s.Close()
	return send(s, msg)
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	dir := "spaces"
	if cmd.Args().Len() > 0 {
		dir = cmd.Args().First()
	}

	results, err := config.ValidateDir(dir)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	invalid := 0
	for _, r := range results {
		if r.Valid {
			fmt.Fprintf(out, "✓ %s\n", r.File)
			continue
		}
		invalid++
		fmt.Fprintf(out, "✗ %s: %v\n", r.File, r.Err)
	}
	fmt.Fprintf(out, "%d file(s), %d invalid\n", len(results), invalid)

	if invalid > 0 {
		return fmt.Errorf("%d invalid space definition(s)", invalid)
	}
	return nil
}
