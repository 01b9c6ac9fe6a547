package serve

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/uio/cmd/util"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the uio server",
		Long:    `Start the uio server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is UIO_<flag> (e.g. UIO_SOCKET_PATH=/run/uio/socket)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	def := common.DefaultServerConfig()

	// add flags
	key := "socket-path"
	ServeCmd.PersistentFlags().String(key, def.SocketPath, cmdUtil.WrapString("Path of the listening socket. The parent directory is created and a stale socket left behind by a crashed server is removed"))

	key = "mode"
	ServeCmd.PersistentFlags().String(key, string(def.Mode), cmdUtil.WrapString("How connections are driven: loop (one goroutine multiplexes all connections) or threaded (one goroutine per connection and a single dispatcher)"))

	key = "backlog"
	ServeCmd.PersistentFlags().Int(key, def.Backlog, cmdUtil.WrapString("Maximum number of pending connections of the listening socket"))

	key = "max-events"
	ServeCmd.PersistentFlags().Int(key, def.MaxEvents, cmdUtil.WrapString("Maximum number of kernel events handled per wait"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, def.ReadBufferSize/1024, cmdUtil.WrapString("Size of the receive buffer of stream connections (in KB)"))

	key = "max-pending-caps"
	ServeCmd.PersistentFlags().Int(key, def.MaxPendingCapabilities, cmdUtil.WrapString("Maximum number of descriptors a stream connection may buffer for incomplete frames before it is closed"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, def.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). Single loggers can be overridden with a comma separated list, e.g. info,server=debug,poll=warn"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address on which Prometheus metrics are served under /metrics (e.g. localhost:9100), disabled if empty"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	t, err := cmdUtil.GetTransport()
	if err != nil {
		return err
	}

	mode, err := common.ParseServerMode(viper.GetString("mode"))
	if err != nil {
		return err
	}

	if _, _, err := common.ParseLogLevels(viper.GetString("log-level")); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.SocketPath = viper.GetString("socket-path")
	serveCmdConfig.Transport = t
	serveCmdConfig.Backlog = viper.GetInt("backlog")
	serveCmdConfig.Mode = mode
	serveCmdConfig.MaxEvents = viper.GetInt("max-events")
	serveCmdConfig.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	serveCmdConfig.MaxPendingCapabilities = viper.GetInt("max-pending-caps")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")

	if serveCmdConfig.Backlog <= 0 {
		return fmt.Errorf("backlog must be positive, got %d", serveCmdConfig.Backlog)
	}
	if serveCmdConfig.MaxEvents <= 0 {
		return fmt.Errorf("max-events must be positive, got %d", serveCmdConfig.MaxEvents)
	}

	return nil
}

// run starts the uio server and serves until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.NewIPCServer(serveCmdConfig, s).Serve(ctx)
}
