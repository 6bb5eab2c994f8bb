package util

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ValentinKolb/fab/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read FAB_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("fab")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupWSFlags adds the flags naming the websocket endpoint of the bridge
func SetupWSFlags(cmd *cobra.Command) {
	key := "ws-host"
	cmd.PersistentFlags().String(key, common.DefaultWSHost, WrapString("Host of the websocket endpoint of the bridge"))

	key = "ws-port"
	cmd.PersistentFlags().Int(key, common.DefaultWSPort, WrapString("Port of the websocket endpoint of the bridge"))
}

// SetupLogFlags adds the log level flag
func SetupLogFlags(cmd *cobra.Command) {
	key := "log-level"
	cmd.PersistentFlags().String(key, common.DefaultLogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). Logs are written to stderr"))
}

// GetClientConfig reads the caller configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		WSHost:    viper.GetString("ws-host"),
		WSPort:    viper.GetInt("ws-port"),
		TimeoutMs: viper.GetInt64("timeout-ms"),
	}
}

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
