package commands

import (
	"context"
	"io"
	"os"

	"github.com/opd-ai/noisenet"
	"github.com/spf13/cobra"
)

// NewConnectCmd returns the command that pipes stdin to a peer
func NewConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connect <public-key>",
		Short:   "Connect to a peer, write stdin to it and print what it sends",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE:    connect,
	}
	AddConnectFlags(cmd)
	return cmd
}

// AddConnectFlags adds flags to the connect command
func AddConnectFlags(cmd *cobra.Command) {
	cmd.Flags().DurationP("timeout", "t", _config.Timeout, "Give up if the peer is not reached in time (0 waits forever)")
	cmd.Flags().Duration("lookup-interval", _config.LookupInterval, "Time between lookup queries")
	cmd.Flags().Duration("holepunch-timeout", _config.HolepunchTimeout, "How long a holepunch may take")
}

func connect(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	agent := noisenet.NewAgent(_config.Options())
	defer agent.Close()

	stream, err := agent.ConnectHex(args[0], nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupted():
			stream.Close()
		case <-ctx.Done():
		}
	}()

	if err := stream.Handshake(ctx); err != nil {
		return err
	}
	logger.WithField("remote", stream.RemoteAddr()).Info("Connected")

	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, stream)
		received <- err
	}()

	if _, err := io.Copy(stream, os.Stdin); err != nil {
		return err
	}
	if err := stream.CloseWrite(); err != nil {
		return err
	}
	return <-received
}
