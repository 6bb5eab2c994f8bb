package agent

import (
	cmdUtil "github.com/ValentinKolb/fab/cmd/util"
	rpcAgent "github.com/ValentinKolb/fab/rpc/agent"
	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/ValentinKolb/fab/rpc/executor/cdp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is announced in the hello message, set by the root command
var Version = "dev"

var (
	agentCmdConfig = &common.AgentConfig{}
	AgentCmd       = &cobra.Command{
		Use:   "agent",
		Short: "Start the browser agent",
		Long: `Start the browser agent. The agent connects to a bridge started with --downstream tcp or unix, keeps the link alive and executes the actions it receives in a Chrome/Chromium browser driven over the DevTools protocol.
The configuration can be set via command line flags or environment variables. The format of the environment variables is FAB_<flag> (e.g. FAB_CHROME_URL=ws://127.0.0.1:9222/devtools/browser/...)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupLogFlags(AgentCmd)

	key := "transport"
	AgentCmd.PersistentFlags().String(key, common.DownstreamTCP, cmdUtil.WrapString("Transport of the link to the bridge (tcp, unix)"))

	key = "endpoint"
	AgentCmd.PersistentFlags().String(key, common.DefaultDownstreamEndpoint, cmdUtil.WrapString("Address of the downstream listener of the bridge (e.g. 127.0.0.1:8766, /tmp/fab.sock)"))

	key = "reconnect-backoff-ms"
	AgentCmd.PersistentFlags().Int64(key, common.DefaultReconnectBackoffMs, cmdUtil.WrapString("Delay before the link to the bridge is re-established after a drop, in milliseconds"))

	key = "max-frame-bytes"
	AgentCmd.PersistentFlags().Int(key, common.DefaultMaxFrameBytes, cmdUtil.WrapString("Largest frame accepted from the bridge in bytes"))

	key = "max-batch-depth"
	AgentCmd.PersistentFlags().Int(key, common.DefaultMaxBatchDepth, cmdUtil.WrapString("How deep batch actions may be nested"))

	key = "chrome-url"
	AgentCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("DevTools websocket url of a running browser. If empty a browser is launched"))

	key = "headless"
	AgentCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Launch the browser headless (ignored with --chrome-url)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the agent configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	agentCmdConfig.Transport = viper.GetString("transport")
	agentCmdConfig.Endpoint = viper.GetString("endpoint")
	agentCmdConfig.ReconnectBackoffMs = viper.GetInt64("reconnect-backoff-ms")
	agentCmdConfig.MaxFrameBytes = viper.GetInt("max-frame-bytes")
	agentCmdConfig.MaxBatchDepth = viper.GetInt("max-batch-depth")
	agentCmdConfig.ChromeURL = viper.GetString("chrome-url")
	agentCmdConfig.Headless = viper.GetBool("headless")
	agentCmdConfig.LogLevel = viper.GetString("log-level")

	return common.InitLoggers(agentCmdConfig.LogLevel)
}

// run starts the agent
func run(_ *cobra.Command, _ []string) error {
	exec := cdp.NewExecutor(cdp.Options{
		RemoteURL: agentCmdConfig.ChromeURL,
		Headless:  agentCmdConfig.Headless,
	})

	a, err := rpcAgent.NewAgent(*agentCmdConfig, exec, Version)
	if err != nil {
		return err
	}

	ctx, stop := cmdUtil.SignalContext()
	defer stop()
	return a.Run(ctx)
}
