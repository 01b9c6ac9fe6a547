package client

import (
	"fmt"
	"github.com/ValentinKolb/uio/cmd/util"
	"github.com/ValentinKolb/uio/ipc/client"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/serializer"
	"github.com/spf13/cobra"
)

var (
	clientConfig     *common.ClientConfig
	clientSerializer serializer.IIPCSerializer

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:               "client",
		Short:             "Connect to a running uio server",
		PersistentPreRunE: setupClient,
	}

	// announceCmd represents the announce command
	announceCmd = &cobra.Command{
		Use:   "announce [name]",
		Short: "Announce a client by name and wait until the server accepted it",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnnounce,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common connection flags to the client command
	util.SetupClientFlags(ClientCommands)

	// Add subcommands
	ClientCommands.AddCommand(announceCmd)
	ClientCommands.AddCommand(perfTestCmd)
}

// setupClient reads the client configuration shared by all subcommands
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if clientConfig, err = util.GetClientConfig(); err != nil {
		return err
	}
	clientSerializer, err = util.GetSerializer()
	return err
}

func runAnnounce(_ *cobra.Command, args []string) error {
	c, err := client.Dial(*clientConfig, clientSerializer)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Announce(args[0]); err != nil {
		return err
	}

	fmt.Printf("announced as %s\n", args[0])
	return nil
}
