// Package main provides a reference client for the game lobby server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/gamelobby/internal/client"
	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

func main() {
	root := &cobra.Command{
		Use:           "gameclient",
		Short:         "Reference client for the game lobby server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func joinCmd() *cobra.Command {
	var addr, gameName, name string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a lobby and print game packets until the server says bye",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return join(ctx, cmd.OutOrStdout(), addr, gameName, name)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:6000", "server address")
	cmd.Flags().StringVar(&gameName, "game", "Placeholder Game", "lobby to join")
	cmd.Flags().StringVar(&name, "name", "", "display name; empty stays anonymous")
	return cmd
}

func join(ctx context.Context, out io.Writer, addr, gameName, name string) error {
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	welcome, err := c.Join(name, gameName)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, welcome.Message)

	packets := make(chan protocol.Packet)
	errs := make(chan error, 1)
	go func() {
		for {
			p, err := c.Receive()
			if err != nil {
				errs <- err
				return
			}
			select {
			case packets <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.Bye("Client leaving.")
			return nil
		case p := <-packets:
			fmt.Fprintf(out, "[%s] %s\n", p.Command, p.Message)
			if p.Command == protocol.CommandBye {
				return nil
			}
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "server closed the connection")
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}
	}
}
