package commands

import (
	"encoding/hex"
	"io"

	"github.com/opd-ai/noisenet"
	"github.com/opd-ai/noisenet/noise"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewListenCmd returns the command that runs an echo server
func NewListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "listen",
		Short:   "Listen on the key pair in datadir and echo every stream",
		PreRunE: loadConfig,
		RunE:    listen,
	}
	AddListenFlags(cmd)
	return cmd
}

// AddListenFlags adds flags to the listen command
func AddListenFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-bind-retries", _config.MaxBindRetries, "Attempts at binding TCP and UDP to one port")
	cmd.Flags().Duration("announce-interval", _config.AnnounceInterval, "Time between announce refreshes")
}

func listen(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	keyPair, ok, err := readKeyPair(_config.DataDir)
	if err != nil {
		return err
	}
	if !ok {
		if keyPair, err = noisenet.Keygen(); err != nil {
			return err
		}
		logger.Warn("No key pair in datadir, using an ephemeral one")
	}

	server := noisenet.NewServer(&noisenet.ServerOptions{
		Options: _config.Options(),
		OnConnection: func(stream *noise.Stream) {
			remote, _ := stream.RemoteStatic()
			log := logger.WithField("remote", hex.EncodeToString(remote[:]))
			log.Info("Peer joined")

			n, err := io.Copy(stream, stream)
			log.WithFields(logrus.Fields{
				"bytes": n,
				"error": err,
			}).Info("Peer left")
			stream.Close()
		},
	})
	server.OnListening(func() {
		logger.WithFields(logrus.Fields{
			"addr":       server.Addr(),
			"public_key": keyPair.PublicHex(),
		}).Info("Listening")
	})
	server.OnAnnounce(func() {
		logger.Debug("Announced")
	})
	server.OnClientError(func(err error) {
		logger.WithError(err).Debug("Client error")
	})

	if err := server.Listen(keyPair); err != nil {
		return err
	}

	<-interrupted()
	return server.Close()
}
