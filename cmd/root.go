package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/fab/cmd/agent"
	"github.com/ValentinKolb/fab/cmd/call"
	"github.com/ValentinKolb/fab/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "fab",
		Short: "browser agent bridge",
		Long: fmt.Sprintf(`fab (v%s)

A message bridge between local callers and a browser agent. Callers talk
JSON over websocket, the bridge correlates their requests with the
responses arriving on a length prefixed link to the agent.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fab",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fab v%s\n", Version)
		},
	}
)

func init() {
	agent.Version = Version

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(agent.AgentCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(call.ProfileCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
