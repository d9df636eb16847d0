package commands

import (
	"github.com/opd-ai/noisenet/discovery"
	"github.com/opd-ai/noisenet/transport"
	"github.com/spf13/cobra"
)

// NewBootstrapCmd returns the command that runs a bootstrap node
func NewBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bootstrap",
		Short:   "Run a discovery bootstrap node",
		PreRunE: loadConfig,
		RunE:    runBootstrap,
	}
	AddBootstrapFlags(cmd)
	return cmd
}

// AddBootstrapFlags adds flags to the bootstrap command
func AddBootstrapFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", _config.Port, "UDP port to serve on")
	cmd.Flags().Duration("ttl", _config.TTL, "How long an announcement lives without a refresh (0 uses the default)")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	socket := transport.NewUDPSocket()
	if err := socket.Bind(_config.Port); err != nil {
		return err
	}

	discovery.NewBootstrap(socket, _config.TTL)
	_config.Logger().WithField("addr", socket.LocalAddr()).Info("Bootstrap node ready")

	<-interrupted()
	return socket.Close()
}
