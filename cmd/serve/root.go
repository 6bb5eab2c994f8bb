package serve

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/fab/cmd/util"
	"github.com/ValentinKolb/fab/rpc/bridge"
	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/transport"
	"github.com/ValentinKolb/fab/rpc/transport/stdio"
	"github.com/ValentinKolb/fab/rpc/transport/tcp"
	"github.com/ValentinKolb/fab/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.BridgeConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the fab bridge",
		Long: `Start the fab bridge. Callers connect over websocket, the agent is reached over the downstream link.
With the default downstream (stdio) the bridge runs as native messaging host and talks length prefixed JSON frames on stdin/stdout.
The configuration can be set via command line flags or environment variables. The format of the environment variables is FAB_<flag> (e.g. FAB_WS_PORT=8765)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupWSFlags(ServeCmd)
	cmdUtil.SetupLogFlags(ServeCmd)

	key := "request-timeout-ms"
	ServeCmd.PersistentFlags().Int64(key, common.DefaultRequestTimeoutMs, cmdUtil.WrapString("Deadline of a forwarded request in milliseconds. Requests without a response are answered with 'Request timed out'"))

	key = "downstream"
	ServeCmd.PersistentFlags().String(key, common.DefaultDownstream, cmdUtil.WrapString("Link to the agent (stdio, tcp, unix). tcp and unix listen on --downstream-endpoint and accept one agent at a time"))

	key = "downstream-endpoint"
	ServeCmd.PersistentFlags().String(key, common.DefaultDownstreamEndpoint, cmdUtil.WrapString("Address the downstream listener binds to (e.g. 127.0.0.1:8766, /tmp/fab.sock). Ignored for stdio"))

	key = "max-frame-bytes"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameBytes, cmdUtil.WrapString("Largest frame accepted on the downstream link in bytes"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the bridge configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.WSHost = viper.GetString("ws-host")
	serveCmdConfig.WSPort = viper.GetInt("ws-port")
	serveCmdConfig.RequestTimeoutMs = viper.GetInt64("request-timeout-ms")
	serveCmdConfig.Downstream = viper.GetString("downstream")
	serveCmdConfig.DownstreamEndpoint = viper.GetString("downstream-endpoint")
	serveCmdConfig.MaxFrameBytes = viper.GetInt("max-frame-bytes")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := serveCmdConfig.Validate(); err != nil {
		return err
	}
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the bridge
func run(_ *cobra.Command, _ []string) error {

	// Parse the downstream transport
	var t transport.IRPCServerTransport
	switch serveCmdConfig.Downstream {
	case common.DownstreamStdio:
		t = stdio.NewStdioServerTransport(serveCmdConfig.MaxFrameBytes)
	case common.DownstreamTCP:
		t = tcp.NewTCPServerTransport(serveCmdConfig.MaxFrameBytes)
	case common.DownstreamUnix:
		t = unix.NewUnixServerTransport(serveCmdConfig.MaxFrameBytes)
	default:
		return fmt.Errorf("invalid downstream %s", serveCmdConfig.Downstream)
	}

	ctx, stop := cmdUtil.SignalContext()
	defer stop()

	b := bridge.NewBridge(*serveCmdConfig, t)
	return b.Serve(ctx)
}
