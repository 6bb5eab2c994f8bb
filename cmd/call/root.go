package call

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/fab/cmd/util"
	"github.com/ValentinKolb/fab/rpc/client"
	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	wsClient *client.Client

	// CallCmd represents the call command
	CallCmd = &cobra.Command{
		Use:   "call [action] [params-json]",
		Short: "Send one action to a running bridge and print the response",
		Long: `Send one action to the bridge and print the response as JSON. params-json is an optional JSON object, e.g.
  fab call navigate '{"url":"https://example.com","wait":true}'`,
		Args:     cobra.RangeArgs(1, 2),
		PreRunE:  setupClient,
		RunE:     runCall,
		PostRunE: closeClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add connection flags to both caller commands
	for _, cmd := range []*cobra.Command{CallCmd, ProfileCmd} {
		util.SetupWSFlags(cmd)
		util.SetupLogFlags(cmd)
		cmd.PersistentFlags().Int64("timeout-ms", common.DefaultRequestTimeoutMs+5000, util.WrapString("How long the client waits for a response in milliseconds. Should be above the request timeout of the bridge"))
	}

	// Add flags specific to call
	CallCmd.Flags().Bool("profile", false, util.WrapString("Request per hop timing"))
}

// setupClient connects to the bridge
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config := util.GetClientConfig()
	c, err := client.Dial(contextOf(cmd), *config)
	if err != nil {
		return err
	}
	wsClient = c
	return nil
}

func closeClient(_ *cobra.Command, _ []string) error {
	if wsClient == nil {
		return nil
	}
	return wsClient.Close()
}

func runCall(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args)
	if err != nil {
		return err
	}
	profile, _ := cmd.Flags().GetBool("profile")

	resp, err := wsClient.Call(contextOf(cmd), args[0], params, profile)
	if err != nil {
		return err
	}

	if err := printJSON(resp); err != nil {
		return err
	}
	if !resp.OK {
		// non zero exit code, the response is already printed
		cmd.SilenceUsage = true
		return resp.Err()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseParams decodes the optional second argument as JSON object
func parseParams(args []string) (map[string]any, error) {
	if len(args) < 2 || args[1] == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
		return nil, fmt.Errorf(`failed to parse params JSON (example: '{"url":"https://example.com"}'): %w`, err)
	}
	return params, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
