package cmd

import (
	"fmt"
	"github.com/ValentinKolb/uio/cmd/client"
	"github.com/ValentinKolb/uio/cmd/serve"
	"github.com/ValentinKolb/uio/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "uio",
		Short: "local message passing over unix domain sockets",
		Long: fmt.Sprintf(`uio (v%s)

A local inter-process communication server written in Go. Clients connect
over a unix domain socket, exchange typed messages with the server and can
pass open file descriptors alongside them.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of uio",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("uio v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json, gob, cbor)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "stream", util.WrapString("socket type to use (stream, seqpacket). Client and server must use the same"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
